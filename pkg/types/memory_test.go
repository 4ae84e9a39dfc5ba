package types_test

import (
	"strings"
	"testing"
	"time"

	"github.com/natefox/mnemo/pkg/types"
)

// validEntry returns a minimal entry that passes validation. Tests mutate a
// fresh copy to probe individual invariants.
func validEntry() *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:            "c7a1b9d0-0000-0000-0000-000000000001",
		Content:       "use WAL mode for concurrent sqlite readers",
		ContentType:   types.ContentTypeLearning,
		ContentFormat: types.FormatText,
		Keywords:      []string{"sqlite", "wal"},
		CreatedAt:     time.Now(),
	}
}

func TestIsValidContentType(t *testing.T) {
	for _, ct := range types.ValidContentTypes {
		t.Run("valid_"+string(ct), func(t *testing.T) {
			if !types.IsValidContentType(ct) {
				t.Errorf("IsValidContentType(%q) = false, want true", ct)
			}
		})
	}

	invalid := []types.ContentType{"", "CODE", "snippet", "code ", "context_extra"}
	for _, ct := range invalid {
		t.Run("invalid_"+string(ct), func(t *testing.T) {
			if types.IsValidContentType(ct) {
				t.Errorf("IsValidContentType(%q) = true, want false", ct)
			}
		})
	}
}

func TestIsValidCheckpointReason(t *testing.T) {
	for _, r := range types.ValidCheckpointReasons {
		if !types.IsValidCheckpointReason(r) {
			t.Errorf("IsValidCheckpointReason(%q) = false, want true", r)
		}
	}
	if types.IsValidCheckpointReason("scheduled") {
		t.Error("IsValidCheckpointReason(\"scheduled\") = true, want false")
	}
}

func TestMemoryEntryValidate(t *testing.T) {
	if err := validEntry().Validate(); err != nil {
		t.Fatalf("Validate() on valid entry failed: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*types.MemoryEntry)
		wantErr string
	}{
		{
			name:    "empty id",
			mutate:  func(m *types.MemoryEntry) { m.ID = "" },
			wantErr: "id",
		},
		{
			name:    "empty content",
			mutate:  func(m *types.MemoryEntry) { m.Content = "" },
			wantErr: "content",
		},
		{
			name:    "whitespace content",
			mutate:  func(m *types.MemoryEntry) { m.Content = "   \n\t" },
			wantErr: "content",
		},
		{
			name:    "unknown content type",
			mutate:  func(m *types.MemoryEntry) { m.ContentType = "snippet" },
			wantErr: "content type",
		},
		{
			name:    "unknown content format",
			mutate:  func(m *types.MemoryEntry) { m.ContentFormat = "xml" },
			wantErr: "content format",
		},
		{
			name:    "relevance score above range",
			mutate:  func(m *types.MemoryEntry) { m.RelevanceScore = 1.5 },
			wantErr: "relevance score",
		},
		{
			name:    "negative access count",
			mutate:  func(m *types.MemoryEntry) { m.AccessCount = -1 },
			wantErr: "access count",
		},
		{
			name:    "embedding without model",
			mutate:  func(m *types.MemoryEntry) { m.Embedding = []float32{0.1, 0.2} },
			wantErr: "embedding model",
		},
		{
			name:    "model without embedding",
			mutate:  func(m *types.MemoryEntry) { m.EmbeddingModel = "nomic-embed-text" },
			wantErr: "embedding",
		},
		{
			name: "checkpoint on non-context entry",
			mutate: func(m *types.MemoryEntry) {
				m.Checkpoint = &types.CheckpointInfo{
					WorkItemID: "wi-1",
					Reason:     types.ReasonManual,
					Timestamp:  time.Now(),
				}
			},
			wantErr: "content type",
		},
		{
			name: "checkpoint without work item id",
			mutate: func(m *types.MemoryEntry) {
				m.ContentType = types.ContentTypeContext
				m.Checkpoint = &types.CheckpointInfo{
					Reason:    types.ReasonManual,
					Timestamp: time.Now(),
				}
			},
			wantErr: "work item id",
		},
		{
			name: "checkpoint with unknown reason",
			mutate: func(m *types.MemoryEntry) {
				m.ContentType = types.ContentTypeContext
				m.Checkpoint = &types.CheckpointInfo{
					WorkItemID: "wi-1",
					Reason:     "scheduled",
					Timestamp:  time.Now(),
				}
			},
			wantErr: "reason",
		},
		{
			name: "checkpoint with zero timestamp",
			mutate: func(m *types.MemoryEntry) {
				m.ContentType = types.ContentTypeContext
				m.Checkpoint = &types.CheckpointInfo{
					WorkItemID: "wi-1",
					Reason:     types.ReasonPeriodic,
				}
			},
			wantErr: "timestamp",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := validEntry()
			tc.mutate(entry)
			err := entry.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestMemoryEntryValidateCheckpoint(t *testing.T) {
	entry := validEntry()
	entry.ContentType = types.ContentTypeContext
	entry.Checkpoint = &types.CheckpointInfo{
		WorkItemID:     "wi-42",
		WorkItemStatus: "in_progress",
		Elapsed:        90 * time.Minute,
		Reason:         types.ReasonPeriodic,
		Timestamp:      time.Now(),
	}
	if err := entry.Validate(); err != nil {
		t.Fatalf("Validate() on checkpoint entry failed: %v", err)
	}
}

func TestHasEmbedding(t *testing.T) {
	entry := validEntry()
	if entry.HasEmbedding() {
		t.Error("HasEmbedding() = true for entry without embedding")
	}
	entry.Embedding = []float32{0.5}
	entry.EmbeddingModel = "nomic-embed-text"
	if !entry.HasEmbedding() {
		t.Error("HasEmbedding() = false for entry with embedding")
	}
}
