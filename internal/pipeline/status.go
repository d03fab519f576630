package pipeline

import (
	"context"
	"time"

	"github.com/hyperjump/koe/internal/storage"
)

// Status describes the stores and the configured capabilities.
type Status struct {
	Speakers       int             `json:"speakers"`
	VoiceDimension int             `json:"voice_dimension,omitempty"`
	Transcripts    int64           `json:"transcripts"`
	Sources        int             `json:"sources"`
	Chunks         int             `json:"chunks"`
	Index          IndexStatus     `json:"index"`
	Generator      string          `json:"generator"`
	DiskUsage      []storage.Usage `json:"disk_usage,omitempty"`
	DiskUsageBytes int64           `json:"disk_usage_bytes"`
}

// IndexStatus describes the retrieval index snapshot.
type IndexStatus struct {
	Built   bool       `json:"built"`
	Size    int        `json:"size"`
	BuiltAt *time.Time `json:"built_at,omitempty"`
	// Stale is set when chunks were added since the last build.
	Stale      bool   `json:"stale"`
	RecallMode string `json:"recall_mode"`
	Reranker   string `json:"reranker"`
}

// Status reports counts, index freshness and disk usage. Transcripts counts catalog records
// when a catalog is configured, else distinct sources.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	sources := p.c.Docs.Sources()
	st := &Status{
		Speakers:       p.c.Registry.Size(),
		VoiceDimension: p.c.Registry.Dimension(),
		Transcripts:    int64(len(sources)),
		Sources:        len(sources),
		Chunks:         p.c.Docs.Len(),
		Generator:      "extractive",
		Index: IndexStatus{
			Built:      p.c.Index.Built(),
			Size:       p.c.Index.Size(),
			RecallMode: p.c.Index.RecallMode(),
			Reranker:   p.c.Index.RerankerName(),
		},
	}
	if p.c.Generator != nil {
		st.Generator = p.c.Generator.Name()
	}
	if t := p.c.Index.BuiltAt(); !t.IsZero() {
		st.Index.BuiltAt = &t
	}
	p.writeMu.Lock()
	st.Index.Stale = p.builtRevision != p.c.Docs.Revision()
	p.writeMu.Unlock()

	if p.c.Catalog != nil {
		n, err := p.c.Catalog.CountTranscripts(ctx)
		if err != nil {
			return nil, err
		}
		st.Transcripts = n
	}

	paths := append(p.c.Registry.Files(), p.c.Index.Files()...)
	if p.c.CatalogPath != "" {
		paths = append(paths, p.c.CatalogPath)
	}
	usage, total, err := storage.DiskUsage(paths...)
	if err != nil {
		return nil, err
	}
	st.DiskUsage = usage
	st.DiskUsageBytes = total
	return st, nil
}
