package mcp

// Document: https://modelcontextprotocol.io/docs/concepts/resources

const (
	// Client => Server
	MethodResourcesList = "resources/list"
)

// Resource
//
//	{
//		uri: string;           // Unique identifier for the resource
//		name: string;          // Human-readable name
//		description?: string;  // Optional description
//		mimeType?: string;     // Optional MIME type
//	}
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}
