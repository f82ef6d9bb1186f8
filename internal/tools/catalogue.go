// Package tools executes the closed catalogue of host actions the reasoning
// service may request: shell commands, file reads and writes, directory
// listings, and file search.
package tools

// Kind enumerates the catalogue. Dispatch is an exhaustive switch over Kind;
// adding a variant means adding a case and a Spec, nothing in the turn loop
// changes.
type Kind string

const (
	KindRunBash       Kind = "run_bash"
	KindReadFile      Kind = "read_file"
	KindWriteFile     Kind = "write_file"
	KindListDirectory Kind = "list_directory"
	KindSearchFiles   Kind = "search_files"
)

// Property describes one input field for the reasoning-service schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// InputSchema is the JSON schema advertised for a tool's input.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Spec is one catalogue entry as shown to the reasoning service.
type Spec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Catalogue returns the static tool catalogue submitted with every reasoning
// request.
func Catalogue() []Spec {
	return []Spec{
		{
			Name:        string(KindRunBash),
			Description: "Execute a bash command on the server. Returns stdout, stderr, and exit code.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"command": {Type: "string", Description: "The bash command to execute"},
				},
				Required: []string{"command"},
			},
		},
		{
			Name:        string(KindReadFile),
			Description: "Read the contents of a file. Returns the full file content as text.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"path": {Type: "string", Description: "Absolute path to the file"},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        string(KindWriteFile),
			Description: "Create or overwrite a file with content. Creates parent directories if needed.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"path":    {Type: "string", Description: "Absolute path to the file"},
					"content": {Type: "string", Description: "Content to write to the file"},
				},
				Required: []string{"path", "content"},
			},
		},
		{
			Name:        string(KindListDirectory),
			Description: "List files and directories in a given path with size, permissions, and modified time.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"path": {Type: "string", Description: "Path to list"},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        string(KindSearchFiles),
			Description: "Search for files by name pattern or for text content within files.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"path":        {Type: "string", Description: "Directory to search in"},
					"pattern":     {Type: "string", Description: "Search pattern (filename fragment or text content)"},
					"search_type": {Type: "string", Description: "Either 'filename' or 'content'", Enum: []string{"filename", "content"}},
				},
				Required: []string{"path", "pattern", "search_type"},
			},
		},
	}
}
