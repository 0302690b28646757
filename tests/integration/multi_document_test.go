//go:build integration

// Multi-document session tests.
//
// A writing session rarely touches one file. These tests drive several
// chapters at once through separate clients and verify the session state
// around them: watched-file accounting, concurrent saves, recent-file
// ordering, and window geometry.
package integration

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"mirrorshard/internal/ipc"
	"mirrorshard/internal/textenc"
)

// TestMultipleDocuments drives three chapters through two clients.
func TestMultipleDocuments(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()
	env.InitAll()

	editor := env.NewClient("editor")

	chapters := make([]string, 3)
	for i := range chapters {
		name := fmt.Sprintf("chapter%d.txt", i+1)
		content := fmt.Sprintf("第%d章\n\n本文はまだない。\n", i+1)
		chapters[i] = env.CreateDocument(name, content)
	}

	t.Run("open_three_chapters", func(t *testing.T) {
		for _, path := range chapters {
			_, err := editor.OpenDocument(path, true)
			AssertNoError(t, err, "open %s", path)
		}

		status, err := editor.Status()
		AssertNoError(t, err, "status")
		AssertEqual(t, 3, len(status.OpenDocuments), "open document count")
		AssertEqual(t, 3, status.WatchedFiles, "watched file count")
	})

	t.Run("concurrent_saves_from_two_clients", func(t *testing.T) {
		second := env.NewClient("second-window")

		var wg sync.WaitGroup
		errs := make(chan error, 2)

		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := editor.SaveDocument(chapters[0], "第1章\n\n並行保存その一。\n", textenc.UTF8)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := second.SaveDocument(chapters[1], "第2章\n\n並行保存その二。\n", textenc.UTF8)
			errs <- err
		}()
		wg.Wait()
		close(errs)

		for err := range errs {
			AssertNoError(t, err, "concurrent save")
		}

		first, err := os.ReadFile(chapters[0])
		AssertNoError(t, err, "read chapter 1")
		AssertEqual(t, "第1章\n\n並行保存その一。\n", string(first), "chapter 1 on disk")

		secondContent, err := os.ReadFile(chapters[1])
		AssertNoError(t, err, "read chapter 2")
		AssertEqual(t, "第2章\n\n並行保存その二。\n", string(secondContent), "chapter 2 on disk")
	})

	t.Run("external_changes_to_two_chapters_both_announced", func(t *testing.T) {
		listener := env.NewClient("event-listener")
		AssertNoError(t, listener.Subscribe([]ipc.EventType{ipc.EventDocumentChanged}), "subscribe")

		env.ModifyDocument(chapters[0], "第1章\n\n外部の書き換え。\n")
		env.ModifyDocument(chapters[2], "第3章\n\n外部の書き換え。\n")

		// The two events can arrive in either order.
		changed := make(map[string]bool)
		for i := 0; i < 2; i++ {
			ev := WaitForEvent(t, listener.Events(), ipc.EventDocumentChanged, 5*time.Second)
			data := EventData(t, ev)
			path, _ := data["path"].(string)
			changed[path] = true
		}

		AssertTrue(t, changed[chapters[0]], "chapter 1 change announced")
		AssertTrue(t, changed[chapters[2]], "chapter 3 change announced")
		AssertFalse(t, changed[chapters[1]], "chapter 2 was not modified")
	})

	t.Run("close_one_keeps_others_watched", func(t *testing.T) {
		AssertNoError(t, editor.CloseDocument(chapters[1]), "close chapter 2")

		status, err := editor.Status()
		AssertNoError(t, err, "status after close")
		AssertEqual(t, 2, len(status.OpenDocuments), "open document count")
		AssertEqual(t, 2, status.WatchedFiles, "watched file count")
	})
}

// TestRecentFilesAndWindowState covers the session state the editor
// restores on launch.
func TestRecentFilesAndWindowState(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()
	env.InitAll()

	editor := env.NewClient("editor")

	paths := make([]string, 3)
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		paths[i] = env.CreateDocument(name, fmt.Sprintf("document %s\n", name))
	}

	t.Run("recent_lists_newest_first", func(t *testing.T) {
		for _, path := range paths {
			_, err := editor.OpenDocument(path, false)
			AssertNoError(t, err, "open %s", path)
			time.Sleep(20 * time.Millisecond)
		}

		resp, err := editor.RecentFiles(0)
		AssertNoError(t, err, "recent files")
		AssertEqual(t, 3, len(resp.Files), "recent file count")
		AssertEqual(t, paths[2], resp.Files[0].Path, "newest first")
		AssertEqual(t, paths[1], resp.Files[1].Path, "second newest")
		AssertEqual(t, paths[0], resp.Files[2].Path, "oldest last")
		AssertEqual(t, "UTF-8", resp.Files[0].Encoding, "recorded encoding")
	})

	t.Run("reopen_moves_to_front", func(t *testing.T) {
		time.Sleep(20 * time.Millisecond)
		_, err := editor.OpenDocument(paths[0], false)
		AssertNoError(t, err, "reopen %s", paths[0])

		resp, err := editor.RecentFiles(0)
		AssertNoError(t, err, "recent files")
		AssertEqual(t, 3, len(resp.Files), "no duplicate entry")
		AssertEqual(t, paths[0], resp.Files[0].Path, "reopened file first")
	})

	t.Run("limit_is_honored", func(t *testing.T) {
		resp, err := editor.RecentFiles(2)
		AssertNoError(t, err, "recent files with limit")
		AssertEqual(t, 2, len(resp.Files), "limited count")
	})

	t.Run("window_state_round_trip", func(t *testing.T) {
		before, err := editor.GetWindowState("main")
		AssertNoError(t, err, "get unsaved window state")
		AssertFalse(t, before.Found, "no state saved yet")

		err = editor.SetWindowState(ipc.WindowStateInfo{
			Label: "main", X: 120, Y: 80, Width: 1280, Height: 900,
		})
		AssertNoError(t, err, "set window state")

		after, err := editor.GetWindowState("main")
		AssertNoError(t, err, "get window state")
		AssertTrue(t, after.Found, "state saved")
		AssertEqual(t, 120, after.State.X, "x")
		AssertEqual(t, 80, after.State.Y, "y")
		AssertEqual(t, 1280, after.State.Width, "width")
		AssertEqual(t, 900, after.State.Height, "height")
		AssertFalse(t, after.State.Maximized, "maximized")
	})

	t.Run("window_state_overwrite", func(t *testing.T) {
		err := editor.SetWindowState(ipc.WindowStateInfo{
			Label: "main", X: 0, Y: 0, Width: 1920, Height: 1080, Maximized: true,
		})
		AssertNoError(t, err, "overwrite window state")

		resp, err := editor.GetWindowState("main")
		AssertNoError(t, err, "get window state")
		AssertTrue(t, resp.Found, "state present")
		AssertTrue(t, resp.State.Maximized, "maximized recorded")
		AssertEqual(t, 1920, resp.State.Width, "width updated")
	})
}
