package prompt

// Template names.
const (
	SystemTemplate = "system.md"
	PlanTemplate   = "plan.md"
	SourceTemplate = "source.md"
	TestTemplate   = "test.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	SystemTemplate: systemTemplate,
	PlanTemplate:   planTemplate,
	SourceTemplate: sourceTemplate,
	TestTemplate:   testTemplate,
}

const systemTemplate = `You are a senior software engineer working on an existing repository.
Follow the instructions exactly. Ensure the code is idiomatic for the project's language and tools.
`

const planTemplate = `# Plan a change

## Issue
{{issue}}

## Project
Language: {{language}}
{{#if framework}}Framework: {{framework}}
{{/if}}{{#if description}}Description: {{description}}
{{/if}}
## Candidate files
{{candidates}}

## Instructions
Sort the candidate files into three lists:
- source_files: files that must be modified to resolve the issue.
- relevant_files: files worth reading for context but that need no change.
- test_files: test files to add or update for this change. You may name one new test file if no existing test fits.

Only use paths from the candidate list, except for a new test file.
Set is_test_generation_issue to true when the issue only asks for tests.

Respond with one JSON object and nothing else:
{"source_files": [], "relevant_files": [], "test_files": [], "rationale": "", "is_test_generation_issue": false}
{{#if parse_error}}

## Formatting
Your previous answer could not be parsed ({{parse_error}}).
Reply with ONLY the JSON object above. No markdown fences, no prose, no comments.
{{/if}}
`

const sourceTemplate = `# Implement the issue in {{path}}

Implement the following issue in the {{language}} source file ` + "`{{path}}`" + `.
- Output the full, valid content of the file, not just a section.
- Do NOT wrap the output in markdown fences.
- Do NOT add test functions, test cases or usage examples.
- Keep existing public names and imports unless the issue requires a change.

## Issue
{{issue}}
{{#if rationale}}

## Plan
{{rationale}}
{{/if}}

## Current content of {{path}}
{{#if content}}{{content}}{{/if}}{{#if is_new}}(this is a new file){{/if}}
{{#if context}}

## Related files (read-only)
{{context}}
{{/if}}
{{#if feedback}}

## Previous attempt failed
{{feedback}}
Fix these problems in the new version of the file.
{{/if}}
{{#if format_retry}}

## Formatting
Your previous reply was not usable as file content. Reply with ONLY the complete content of {{path}}.
{{/if}}
`

const testTemplate = `# Write tests in {{path}}

Implement the following issue in the {{language}} test file ` + "`{{path}}`" + `.
- Output the full, valid content of the test file, not just a section.
- Do NOT wrap the output in markdown fences.
- Use only imports that match the real file layout shown below. If a source file sits at the repository root, import it directly by module name.
- Write few, simple test cases that check the main requirements of the issue and its edge cases.
{{#if test_only}}- The issue is about tests only; do not assume source changes.
{{/if}}
## Issue
{{issue}}
{{#if rationale}}

## Plan
{{rationale}}
{{/if}}

## Current content of {{path}}
{{#if content}}{{content}}{{/if}}{{#if is_new}}(this is a new file){{/if}}

## Code under test
{{sources}}
{{#if conventions}}

## Existing tests (follow their conventions)
{{conventions}}
{{/if}}
{{#if feedback}}

## Previous attempt failed
{{feedback}}
Fix these problems in the new version of the test file.
{{/if}}
{{#if format_retry}}

## Formatting
Your previous reply was not usable as file content. Reply with ONLY the complete content of {{path}}.
{{/if}}
`
