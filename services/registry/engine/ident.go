// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Allocator produces sequential member identifiers of the form
// `<prefix><zero-padded n>`, e.g. "P001". The format is a durable
// external contract (exports, links, displays all consume it), so the
// prefix and padding are fixed at construction and never change shape
// at runtime.
//
// Next must be called inside the same transaction as the subsequent
// insert; the engine re-checks for an existing row with the candidate
// id immediately before writing.
type Allocator struct {
	Prefix string
	Width  int
}

// Default identifier format.
const (
	DefaultIDPrefix = "P"
	DefaultIDWidth  = 3
)

// NewAllocator returns an Allocator, applying defaults for zero values.
func NewAllocator(prefix string, width int) Allocator {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	if width <= 0 {
		width = DefaultIDWidth
	}
	return Allocator{Prefix: prefix, Width: width}
}

// Format renders the identifier for sequence number n. Numbers that
// outgrow the width keep all their digits; padding only applies below
// the width.
func (a Allocator) Format(n int) string {
	return fmt.Sprintf("%s%0*d", a.Prefix, a.Width, n)
}

// Parse extracts the sequence number from an identifier, or an error
// if the id does not carry this allocator's prefix or a decimal suffix.
func (a Allocator) Parse(id string) (int, error) {
	suffix, ok := strings.CutPrefix(id, a.Prefix)
	if !ok || suffix == "" {
		return 0, fmt.Errorf("identifier %q does not match prefix %q", id, a.Prefix)
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("identifier %q has a non-numeric suffix", id)
	}
	return n, nil
}

// Next returns the identifier following maxExisting. An empty
// maxExisting starts the sequence at 1.
func (a Allocator) Next(maxExisting string) (string, error) {
	if maxExisting == "" {
		return a.Format(1), nil
	}
	n, err := a.Parse(maxExisting)
	if err != nil {
		return "", err
	}
	return a.Format(n + 1), nil
}
