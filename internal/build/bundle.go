// File path: internal/build/bundle.go

// Package build runs the pipeline that turns a game's atoms into a single
// deployable bundle, and the rollback path that restores a prior snapshot.
package build

import (
	"fmt"
	"strings"
	"time"

	"github.com/mkrell/atomforge/internal/atom"
	"github.com/mkrell/atomforge/internal/store"
)

// BundleInput is everything the renderer needs. Atoms must already be in
// dependency order.
type BundleInput struct {
	GameName    string
	Atoms       []atom.SnapshotAtom
	Order       []string
	Externals   []store.InstalledExternal
	GeneratedAt time.Time
}

// RenderBundle emits the bundle as one IIFE: a header describing the build,
// each atom's code in dependency order, then a boot call. The bundle assumes
// installed external libraries are loaded as script globals ahead of it.
func RenderBundle(in BundleInput) string {
	var b strings.Builder
	b.WriteString("// Game: " + in.GameName + "\n")
	b.WriteString("// Generated: " + in.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString(fmt.Sprintf("// Atoms: %d\n", len(in.Atoms)))
	b.WriteString("// Order: " + strings.Join(in.Order, " -> ") + "\n")
	for _, ext := range in.Externals {
		b.WriteString(fmt.Sprintf("// Requires: %s %s (global %s)\n", ext.DisplayName, ext.Version, ext.GlobalName))
	}
	b.WriteString("(function() {\n")
	b.WriteString("  'use strict';\n")

	byName := make(map[string]atom.SnapshotAtom, len(in.Atoms))
	for _, a := range in.Atoms {
		byName[a.Name] = a
	}
	for _, name := range in.Order {
		a, ok := byName[name]
		if !ok {
			continue
		}
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  // --- [%s] %s ---\n", a.Type, a.Name))
		b.WriteString(indent(a.Code, "  "))
	}

	b.WriteString("\n")
	if boot := BootAtom(in.Atoms, in.Order); boot != "" {
		b.WriteString("  // boot\n")
		b.WriteString(fmt.Sprintf("  if (typeof %s === 'function') %s();\n", boot, boot))
	} else {
		b.WriteString("  // no core atom found, nothing to boot\n")
	}
	b.WriteString("})();\n")
	return b.String()
}

// BootAtom picks the entry point: the first core atom in dependency order
// named game_loop or main, else the last core atom in order. Empty when the
// game has no core atom.
func BootAtom(atoms []atom.SnapshotAtom, order []string) string {
	cores := make(map[string]bool)
	for _, a := range atoms {
		if a.Type == atom.TypeCore {
			cores[a.Name] = true
		}
	}
	if len(cores) == 0 {
		return ""
	}
	last := ""
	for _, name := range order {
		if !cores[name] {
			continue
		}
		if name == "game_loop" || name == "main" {
			return name
		}
		last = name
	}
	return last
}

func indent(code, prefix string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	var b strings.Builder
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(prefix + line + "\n")
	}
	return b.String()
}
