package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/notekeeper/internal/client/models"
)

// getMultiline is an indirection over GetMultiline, swappable in tests.
var getMultiline = GetMultiline

// splitTags turns a comma-separated answer into a tag list, dropping
// empty items.
func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// formatNoteLine renders the one line per note the list commands print.
func formatNoteLine(n *models.Note) string {
	var marks []string
	if n.Pinned {
		marks = append(marks, "pinned")
	}
	if n.Favorite {
		marks = append(marks, "favorite")
	}
	if n.Archived {
		marks = append(marks, "archived")
	}
	if n.Dirty {
		marks = append(marks, "unsynced")
	}

	s := fmt.Sprintf("%s  %s", n.ID, n.Title)
	if len(n.Tags) > 0 {
		s += "  [" + strings.Join(n.Tags, ", ") + "]"
	}
	if len(marks) > 0 {
		s += "  (" + strings.Join(marks, ", ") + ")"
	}
	return s
}

// AddNote collects a title, body and tags and creates a new note. The note
// lands in the local mirror immediately; the sync engine ships it when the
// server is reachable.
func (a *App) AddNote(ctx context.Context) error {
	title, err := getSimpleText(a.reader, "Enter title", os.Stdout)
	if err != nil {
		return err
	}
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}

	body, err := getMultiline(a.reader, "Enter note text:", os.Stdout)
	if err != nil {
		return err
	}

	raw, err := getSimpleText(a.reader, "Enter tags (comma separated, empty for none)", os.Stdout)
	if err != nil {
		return err
	}

	n, err := a.noteService.Add(ctx, title, body, splitTags(raw))
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	fmt.Println("Created note", n.ID)
	return nil
}

// EditNote updates a single note. Empty answers leave the field as is.
// While the prompts are open a typing hint is broadcast to anyone watching
// the note.
func (a *App) EditNote(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter note id", os.Stdout)
	if err != nil {
		return err
	}

	_ = a.listener.SetTyping(ctx, id, true)
	defer func() { _ = a.listener.SetTyping(ctx, id, false) }()

	patch := &models.Patch{}

	title, err := getSimpleText(a.reader, "Enter new title (empty to keep)", os.Stdout)
	if err != nil {
		return err
	}
	if title != "" {
		patch.Title = &title
	}

	body, err := getMultiline(a.reader, "Enter new text (empty to keep):", os.Stdout)
	if err != nil {
		return err
	}
	if body != "" {
		patch.Body = &body
	}

	raw, err := getSimpleText(a.reader, "Enter new tags (comma separated, empty to keep)", os.Stdout)
	if err != nil {
		return err
	}
	if raw != "" {
		tags := splitTags(raw)
		patch.Tags = &tags
	}

	if patch.Title == nil && patch.Body == nil && patch.Tags == nil {
		fmt.Println("Nothing to change")
		return nil
	}

	if _, err := a.noteService.Edit(ctx, id, patch); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	return nil
}

// List prints one line per active note.
func (a *App) List(ctx context.Context) error {
	list, err := a.noteService.List(ctx, false)
	if err != nil {
		return err
	}
	for _, n := range list {
		fmt.Println(formatNoteLine(n))
	}
	return nil
}

// ListTrash prints one line per trashed note.
func (a *App) ListTrash(ctx context.Context) error {
	list, err := a.noteService.List(ctx, true)
	if err != nil {
		return err
	}
	for _, n := range list {
		fmt.Println(formatNoteLine(n))
	}
	return nil
}

// Show fetches and displays a single note with its attachments.
func (a *App) Show(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter note id", os.Stdout)
	if err != nil {
		return err
	}

	n, err := a.noteService.Get(ctx, id)
	if err != nil {
		return err
	}

	log.Println(n.Title)
	if len(n.Tags) > 0 {
		log.Printf("Tags: %s", strings.Join(n.Tags, ", "))
	}
	log.Printf("Version: %d", n.Version)
	log.Printf("%s", n.Body)

	atts, err := a.noteService.Attachments(ctx, id)
	if err != nil {
		return err
	}
	for _, att := range atts {
		log.Printf("Attachment %s: %s (%d bytes, %s)", att.ID, att.Filename, att.Size, att.UploadState)
	}
	return nil
}

// Mark toggles one of the note flags. The flag name and the new state are
// prompted interactively like the other commands.
func (a *App) Mark(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter note id", os.Stdout)
	if err != nil {
		return err
	}
	flag, err := getSimpleText(a.reader, "Enter flag (pinned, favorite, archived)", os.Stdout)
	if err != nil {
		return err
	}
	state, err := getSimpleText(a.reader, "Enter state (on, off)", os.Stdout)
	if err != nil {
		return err
	}

	value := state == "on"
	patch := &models.Patch{}
	switch flag {
	case "pinned":
		patch.Pinned = &value
	case "favorite":
		patch.Favorite = &value
	case "archived":
		patch.Archived = &value
	default:
		fmt.Println("Unknown flag:", flag)
		return nil
	}

	if _, err := a.noteService.Edit(ctx, id, patch); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	return nil
}

// Trash moves a note to the trash, prompting the user for the ID.
func (a *App) Trash(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter note id to trash", os.Stdout)
	if err != nil {
		return err
	}
	if err := a.noteService.Trash(ctx, id); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	return nil
}

// Restore brings a note back from the trash.
func (a *App) Restore(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter note id to restore", os.Stdout)
	if err != nil {
		return err
	}
	if err := a.noteService.Restore(ctx, id); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	return nil
}

// Attach stages a local file as an attachment of a note. The content is
// uploaded in the background once the server confirms the metadata.
func (a *App) Attach(ctx context.Context) error {
	noteID, err := getSimpleText(a.reader, "Enter note id", os.Stdout)
	if err != nil {
		return err
	}
	path, err := getSimpleText(a.reader, "Enter file path", os.Stdout)
	if err != nil {
		return err
	}

	att, err := a.noteService.Attach(ctx, noteID, path)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	fmt.Println("Attached", att.Filename, "as", att.ID)
	return nil
}

// Download fetches attachment content into ./download and prints the path.
func (a *App) Download(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter attachment id", os.Stdout)
	if err != nil {
		return err
	}

	path, err := a.noteService.Download(ctx, id)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	log.Printf("File saved to: %s", path)
	return nil
}

// Watch subscribes to live updates for a note. Edits made elsewhere are
// merged into the mirror and room activity is printed as it happens.
func (a *App) Watch(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter note id", os.Stdout)
	if err != nil {
		return err
	}
	if err := a.listener.JoinRoom(ctx, id); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	fmt.Println("Watching note", id)
	return nil
}

// Unwatch leaves a note's room.
func (a *App) Unwatch(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter note id", os.Stdout)
	if err != nil {
		return err
	}
	if err := a.listener.LeaveRoom(ctx, id); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	fmt.Println("Stopped watching note", id)
	return nil
}

// Sync runs one flush round right away instead of waiting for the ticker.
func (a *App) Sync(ctx context.Context) error {
	if err := a.noteService.Sync(ctx); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	return nil
}
