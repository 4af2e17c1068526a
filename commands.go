package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/brunoscheufler/notepad/config"
	"github.com/brunoscheufler/notepad/notes"
	"github.com/brunoscheufler/notepad/store"
	"github.com/spf13/cobra"
)

const listExcerptLength = 40

// withNoteStore opens the configured gateway, loads the notes, runs fn and waits for
// its writes to be saved
func withNoteStore(ctx context.Context, cfg config.Config, logs io.Writer, fn func(*notes.Store) error) error {
	tel := newTelemetry(cfg, false, logs)
	defer tel.Stop()
	logger := tel.GetLogger()

	gateway, _ := openGateway(ctx, cfg, defaultGatewayOptions(logger))
	noteStore, err := newNoteStore(cfg, gateway, tel)
	if err != nil {
		return err
	}

	noteStore.Load(ctx)
	fnErr := fn(noteStore)
	return errors.Join(fnErr, closeNoteStore(noteStore, cfg, logger))
}

type listFlags struct {
	jsonOut bool
}

func newListCmd(cfg *config.Config) *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNoteStore(cmd.Context(), *cfg, cmd.ErrOrStderr(), func(s *notes.Store) error {
				return printNotes(cmd.OutOrStdout(), s.Snapshot(), flags)
			})
		},
	}
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Output in JSON format")
	return cmd
}

func printNotes(w io.Writer, state notes.State, flags *listFlags) error {
	if flags.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state.Notes)
	}

	if len(state.Notes) == 0 {
		_, err := fmt.Fprintln(w, "No notes yet.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED\tEXCERPT")
	for _, note := range state.Notes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			note.ID,
			note.DisplayTitle(),
			note.UpdatedAt.Local().Format("Jan 2, 3:04 PM"),
			notes.Excerpt(note.Content, listExcerptLength),
		)
	}
	return tw.Flush()
}

type addFlags struct {
	title   string
	content string
}

func newAddCmd(cfg *config.Config) *cobra.Command {
	flags := &addFlags{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a note and print its id",
		Long: `Create a note at the top of the list.

Examples:
  # A note with the default title
  notepad add

  # A note with a title and some markup
  notepad add --title Groceries --content "<p>milk, eggs</p>"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNoteStore(cmd.Context(), *cfg, cmd.ErrOrStderr(), func(s *notes.Store) error {
				note := s.Add()

				var patch notes.Patch
				if cmd.Flags().Changed("title") {
					patch.Title = &flags.title
				}
				if cmd.Flags().Changed("content") {
					patch.Content = &flags.content
				}
				if patch.Title != nil || patch.Content != nil {
					s.Update(note.ID, patch)
				}

				_, err := fmt.Fprintln(cmd.OutOrStdout(), note.ID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&flags.title, "title", "", "Note title")
	cmd.Flags().StringVar(&flags.content, "content", "", "Note content markup")
	return cmd
}

func newRmCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withNoteStore(cmd.Context(), *cfg, cmd.ErrOrStderr(), func(s *notes.Store) error {
				if !s.Delete(id) {
					return fmt.Errorf("could not delete %q: %w", id, store.ErrNoteNotFound)
				}
				return nil
			})
		},
	}
}
