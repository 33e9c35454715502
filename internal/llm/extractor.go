// Package llm - extractor.go provides generic LLM-based structured extraction.
package llm

import (
	"fmt"
	"strings"
)

// ExtractionSchema defines the structure for LLM-based content extraction.
// It provides a reusable way to define what information to extract from text.
type ExtractionSchema struct {
	Name        string        // Schema name (e.g., "JobRequirements")
	Description string        // System prompt preamble describing the extraction task
	Fields      []SchemaField // Expected output fields
}

// SchemaField defines a single field in the extraction output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "string", "[]string", "map[string]string"
	Description string // Description for the LLM
	Required    bool   // Whether this field is required
}

// BuildExtractionPrompt constructs the LLM prompt from schema and input text.
func BuildExtractionPrompt(schema ExtractionSchema, inputText string) string {
	var sb strings.Builder

	// System description
	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	// Output schema
	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "string"
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	// Instructions
	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Extract information directly from the text, do not invent or summarize.\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n\n")

	// Input text
	sb.WriteString("Input text:\n\"\"\"\n")
	sb.WriteString(inputText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// --- Predefined Schemas ---

// JobRequirementsSchema returns the extraction schema for job postings.
// Extracts requirements, responsibilities, and administrative metadata so the
// drafting step can target documents at what the posting actually asks for.
func JobRequirementsSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "JobRequirements",
		Description: `You are an expert job posting parser. COPY TEXT VERBATIM - do not paraphrase, summarize, or reword.
Your task is to extract and categorize information from a raw job posting.
IMPORTANT: Preserve the exact wording from the original text.
Goal: Extract requirements, responsibilities, and administrative metadata.
EXCLUDE: Application form fields, EEO statements, legal disclaimers, generic "About Company" boilerplate.`,
		Fields: []SchemaField{
			{
				Name:        "requirements",
				Type:        "[\"string\"]",
				Description: "Technical requirements, qualifications, skills needed - copy each requirement verbatim",
				Required:    true,
			},
			{
				Name:        "responsibilities",
				Type:        "[\"string\"]",
				Description: "Job duties, day-to-day work - copy each responsibility verbatim",
				Required:    true,
			},
			{
				Name:        "nice_to_have",
				Type:        "[\"string\"]",
				Description: "Preferred skills, nice-to-have qualifications - copy verbatim",
				Required:    false,
			},
			{
				Name:        "admin_info",
				Type:        "{\"key\": \"value\"}",
				Description: "Salary, clearance, citizenship, location, job ID - extract key-value pairs",
				Required:    false,
			},
		},
	}
}

// ApplicationStatusSchema returns the extraction schema for candidate status
// pages. Used as a fallback when a portal's markup defeats selector-based
// scraping.
func ApplicationStatusSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "ApplicationStatus",
		Description: `You are reading a job application status page on behalf of the candidate.
Your task is to extract the current state of the application from the page text.`,
		Fields: []SchemaField{
			{
				Name:        "status",
				Type:        "\"string\"",
				Description: "Current application status (e.g., 'received', 'under review', 'interview', 'rejected', 'offer')",
				Required:    true,
			},
			{
				Name:        "updated_at",
				Type:        "\"string\"",
				Description: "When the status last changed, verbatim from the page if shown",
				Required:    false,
			},
			{
				Name:        "next_step",
				Type:        "\"string\"",
				Description: "Any action the page asks the candidate to take",
				Required:    false,
			},
		},
	}
}
