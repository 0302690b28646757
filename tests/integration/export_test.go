//go:build integration

// Book export tests.
//
// The manuscript-to-EPUB path runs entirely inside the daemon: the
// front-end sends a book manifest over IPC and gets back the path of a
// finished file. These tests check the container is a real EPUB and that
// the export rules hold, then cover the font enumeration the editor uses
// to populate its preferences dialog.
package integration

import (
	"archive/zip"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"mirrorshard/internal/epub"
	"mirrorshard/internal/ipc"
)

// TestEpubExport drives an export over IPC and inspects the result.
func TestEpubExport(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()
	env.InitAll()

	client := env.NewClient("exporter")

	book := epub.Book{
		Title:  "鏡の欠片",
		Author: "書き手 太郎",
		Sections: []epub.Section{
			{Title: "第一章", Content: "雨の夜だった。\n\n誰も来ない。\n"},
			{Title: "間章", Content: "   \n\t\n"}, // blank, must not consume a page
			{Title: "第二章", Content: "朝が来た。\n"},
		},
	}
	outputPath := filepath.Join(env.TempDir, "kagami.epub")

	t.Run("export_succeeds", func(t *testing.T) {
		resp, err := client.ExportEpub(book, outputPath)
		AssertNoError(t, err, "export epub")
		AssertEqual(t, outputPath, resp.Path, "reported output path")
	})

	t.Run("output_is_an_epub_container", func(t *testing.T) {
		r, err := zip.OpenReader(outputPath)
		AssertNoError(t, err, "open exported file as zip")
		defer r.Close()

		var mimetype string
		hasContainer := false
		for _, f := range r.File {
			switch {
			case f.Name == "mimetype":
				rc, err := f.Open()
				AssertNoError(t, err, "open mimetype entry")
				data, err := io.ReadAll(rc)
				rc.Close()
				AssertNoError(t, err, "read mimetype entry")
				mimetype = string(data)
			case f.Name == "META-INF/container.xml":
				hasContainer = true
			}
		}

		AssertEqual(t, "application/epub+zip", mimetype, "mimetype entry")
		AssertTrue(t, hasContainer, "container.xml present")
	})

	t.Run("blank_section_consumes_no_page", func(t *testing.T) {
		r, err := zip.OpenReader(outputPath)
		AssertNoError(t, err, "open exported file as zip")
		defer r.Close()

		pages := make(map[string]bool)
		for _, f := range r.File {
			base := filepath.Base(f.Name)
			if strings.HasPrefix(base, "page_") {
				pages[base] = true
			}
		}

		AssertTrue(t, pages["page_1.xhtml"], "first chapter page present")
		AssertTrue(t, pages["page_2.xhtml"], "second chapter page present")
		AssertFalse(t, pages["page_3.xhtml"], "blank section produced a page")
	})

	t.Run("empty_output_path_rejected", func(t *testing.T) {
		_, err := client.ExportEpub(book, "")
		AssertError(t, err, "export with empty output path")

		var daemonErr *ipc.DaemonError
		AssertTrue(t, errors.As(err, &daemonErr), "error is a daemon error")
		AssertEqual(t, ipc.ErrCodeInvalidRequest, daemonErr.Code, "error code")
	})

	t.Run("export_is_counted", func(t *testing.T) {
		status, err := client.Status()
		AssertNoError(t, err, "status")
		AssertTrue(t, status.Counters["epub_exports"] >= 1, "export counted")
	})
}

// TestListFonts checks the font enumeration contract. The host may have
// no fonts installed at all; the ordering guarantees must hold anyway.
func TestListFonts(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()
	env.InitAll()

	client := env.NewClient("font-browser")

	resp, err := client.ListFonts()
	AssertNoError(t, err, "list fonts")

	AssertTrue(t, sort.StringsAreSorted(resp.Families), "families sorted")
	for i := 1; i < len(resp.Families); i++ {
		AssertNotEqual(t, resp.Families[i-1], resp.Families[i], "families deduplicated")
	}
}
