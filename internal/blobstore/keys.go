package blobstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"illustrationd/internal/config"
)

// Keys derives storage keys. The layout is shared with other services reading
// the same bucket and must not change:
//
//	avatars/{user_id}.png
//	subjects/{user_id}.png
//	generated/{user_id}/{kind}_{8 hex}.png
//	loras/{adapter_id}/lora.safetensors
type Keys struct {
	AvatarPrefix    string
	SubjectPrefix   string
	GeneratedPrefix string
	LoRAPrefix      string
}

// NewKeys takes the prefixes from cfg, filling in defaults for empty ones.
func NewKeys(cfg config.StorageConfig) Keys {
	k := Keys{
		AvatarPrefix:    dirPrefix(cfg.AvatarPrefix, "avatars/"),
		SubjectPrefix:   dirPrefix(cfg.SubjectPrefix, "subjects/"),
		GeneratedPrefix: dirPrefix(cfg.GeneratedPrefix, "generated/"),
		LoRAPrefix:      dirPrefix(cfg.LoRAPrefix, "loras/"),
	}
	return k
}

func dirPrefix(p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return def
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func (k Keys) AvatarKey(userID string) string { return k.AvatarPrefix + userID + ".png" }

func (k Keys) SubjectKey(userID string) string { return k.SubjectPrefix + userID + ".png" }

// GeneratedKey returns a fresh output key; each call draws a new random suffix.
func (k Keys) GeneratedKey(userID, kind string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s/%s_%s.png", k.GeneratedPrefix, userID, kind, suffix)
}

func (k Keys) LoRAKey(adapterID string) string {
	return k.LoRAPrefix + adapterID + "/lora.safetensors"
}

// ParseURI splits "s3://bucket/some/prefix" into bucket and key prefix. A value
// without the scheme is taken as a bare key prefix with an empty bucket.
func ParseURI(s string) (bucket, key string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", fmt.Errorf("empty storage path")
	}
	if !strings.HasPrefix(s, "s3://") {
		return "", strings.TrimPrefix(s, "/"), nil
	}
	rest := strings.TrimPrefix(s, "s3://")
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", s)
	}
	return bucket, key, nil
}
