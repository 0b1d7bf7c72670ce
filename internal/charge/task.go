package charge

// Task asks the charge step to create a payment against a chargeable source.
type Task struct {
	EventID      string            `json:"event_id"`
	SourceID     string            `json:"source_id"`
	OrderID      string            `json:"order_id"`
	CustomerID   string            `json:"customer_id,omitempty"`
	Amount       int64             `json:"amount"` // minor units
	Currency     string            `json:"currency"`
	PublishedAt  string            `json:"published_at"`            // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}
