package model

type Draft struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Shared  int    `json:"shared"`
	State   int    `json:"state"`
	Ctime   int64  `json:"ctime"`
	Mtime   int64  `json:"mtime"`
}

// VersionRecord is the authoritative versioning row for a draft. It never
// holds full content, only the blob store key plus a short preview.
type VersionRecord struct {
	DraftID        string `json:"draft_id"`
	ContentKey     string `json:"content_key"`
	Preview        string `json:"preview"`
	Version        int    `json:"version"`
	LastModifiedBy string `json:"last_modified_by"`
	LastModifiedAt int64  `json:"last_modified_at"`
}
