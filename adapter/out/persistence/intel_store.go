package persistence

import "intel_server/core/port/out"

// IntelStore joins the relational and vector halves of the store.
type IntelStore struct {
	*AnalysisAdapter
	*EmbeddingAdapter
}

func NewIntelStore(analysis *AnalysisAdapter, embeddings *EmbeddingAdapter) *IntelStore {
	return &IntelStore{AnalysisAdapter: analysis, EmbeddingAdapter: embeddings}
}

var _ out.IntelStore = (*IntelStore)(nil)
