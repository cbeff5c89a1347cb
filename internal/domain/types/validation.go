package types

// ValidationResult lists blocking errors and advisory warnings.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// BatchItem is the per-entry outcome of a batch validation.
type BatchItem struct {
	Transaction OfflineTransaction `json:"transaction"`
	Errors      []string           `json:"errors,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// BatchResult partitions a batch into valid and invalid entries.
type BatchResult struct {
	Valid   []BatchItem `json:"valid"`
	Invalid []BatchItem `json:"invalid"`
}
