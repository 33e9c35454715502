// Package main provides the entry point for the job application automation
// service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "applier",
	Short: "Job application automation service",
	Long:  "Applier discovers job postings, scores them against an applicant profile, generates tailored documents, fills application forms behind a human approval gate, and tracks submitted applications.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
