package embedding

import "fmt"

// EmbeddingError reports a failed call to the embedding function.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (%s): %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ConfigurationError reports settings that cannot work, such as an embedder
// whose output dimension differs from the configured vector columns.
type ConfigurationError struct {
	Setting string
	Msg     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Msg)
}

func dimensionMismatch(want, got int) *ConfigurationError {
	return &ConfigurationError{
		Setting: "embedding.dimension",
		Msg:     fmt.Sprintf("embedder produced %d values, store expects %d", got, want),
	}
}
