package mcp

const (
	JsonRPCVersion = "2.0"
)

// Request
//
//	{
//		jsonrpc: "2.0",
//		id: number | string,
//		method: string,
//		params?: object
//	}
//
// A request without an id is a notification: it expects no reply and must
// never receive one, even when handling fails.
type Request struct {
	JsonRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response
//
//	{
//		jsonrpc: "2.0",
//		id: number | string,
//		result?: object,
//		error?: {
//			code: number,
//			message: string,
//			data?: unknown
//		}
//	}
type Response struct {
	JsonRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

func NewResponse(id interface{}, result interface{}) *Response {
	return &Response{
		JsonRPC: JsonRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// Notification
//
//	{
//		jsonrpc: "2.0",
//		method: string,
//		params?: object
//	}
type Notification struct {
	JsonRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func NewNotification(method string, params interface{}) *Notification {
	return &Notification{
		JsonRPC: JsonRPCVersion,
		Method:  method,
		Params:  params,
	}
}

// M is a convenience alias for loosely typed JSON objects.
type M map[string]interface{}
