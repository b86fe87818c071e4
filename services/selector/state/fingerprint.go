// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"fmt"
	"os"

	"github.com/minio/highwayhash"
)

// highwayKey is the fixed 32-byte key for fingerprint digests. The
// digest only needs to be stable across runs of this tool, not secret.
var highwayKey = []byte("testsieve.fingerprint.hash.key.1")

// Fingerprint is a cheap-to-compare summary of one file's content state.
//
// Two fingerprints for the same path are equal iff the content is
// (almost certainly) identical.
type Fingerprint struct {
	// Path is the file path as tracked by the builder.
	Path string `json:"path"`

	// ModTime is the modification time in Unix nanoseconds.
	ModTime int64 `json:"mtime"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// Digest is the highwayhash-64 of the file content.
	Digest uint64 `json:"digest"`
}

// Stat computes the full fingerprint for a path, reading the content
// for the digest.
func Stat(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat %s: %w", path, err)
	}
	digest, err := digestFile(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Path:    path,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
		Digest:  digest,
	}, nil
}

// Digest hashes a content buffer the same way Stat hashes files.
func Digest(content []byte) (uint64, error) {
	h, err := highwayhash.New64(highwayKey)
	if err != nil {
		return 0, fmt.Errorf("highwayhash init: %w", err)
	}
	if _, err := h.Write(content); err != nil {
		return 0, fmt.Errorf("highwayhash write: %w", err)
	}
	return h.Sum64(), nil
}

func digestFile(path string) (uint64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return Digest(content)
}
