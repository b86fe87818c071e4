// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI sequences, used only on interactive terminals.
const (
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

// useColor reports whether stdout is an interactive terminal.
func useColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// heading prints a bold section heading when the terminal supports it.
func heading(s string) {
	if useColor() {
		fmt.Printf("%s%s%s\n", ansiBold, s, ansiReset)
		return
	}
	fmt.Println(s)
}

// note prints a dim annotation line.
func note(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if useColor() {
		fmt.Printf("%s%s%s\n", ansiDim, line, ansiReset)
		return
	}
	fmt.Println(line)
}

// emitJSON writes v to stdout as indented JSON.
func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
