// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ottodev/internal/upload"
	"github.com/jeranaias/ottodev/internal/util"
)

func newUploadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Store files in the upload directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openUploads(a.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			failed := 0
			for _, arg := range args {
				rec, err := uploadFile(cmd, svc, util.ExpandHome(arg))
				if err != nil {
					failed++
					fmt.Fprintln(a.errOut, ErrorStyle.Render("✗")+" "+err.Error())
					continue
				}
				fmt.Fprintf(a.out, "%s %s (%s) %s\n",
					SuccessStyle.Render("✓"), rec.Name, util.FormatBytes(rec.Size), DimStyle.Render(rec.ID))
			}
			if failed > 0 {
				return errors.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
}

func uploadFile(cmd *cobra.Command, svc *upload.Service, path string) (*upload.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer f.Close()
	return svc.Upload(cmd.Context(), filepath.Base(path), f)
}

func newUploadsCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List stored uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openUploads(a.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			records, err := svc.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(a.out, "No uploads found.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSIZE\tUPLOADED\tDIGEST")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.ID[:8],
					util.TruncateWidth(rec.Name, 40),
					util.FormatBytes(rec.Size),
					rec.CreatedAt.Local().Format("2006-01-02 15:04"),
					rec.Digest[:12],
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n uploads (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a stored upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openUploads(a.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			id, err := resolveUpload(cmd, svc, args[0])
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("Deleted upload "+id))
			return nil
		},
	})
	return cmd
}

// resolveUpload expands an ID prefix to the ID of a single upload.
func resolveUpload(cmd *cobra.Command, svc *upload.Service, prefix string) (string, error) {
	records, err := svc.List(cmd.Context(), 0)
	if err != nil {
		return "", err
	}
	var match string
	for _, rec := range records {
		if len(prefix) <= len(rec.ID) && rec.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", errors.Errorf("upload id %q is ambiguous", prefix)
			}
			match = rec.ID
		}
	}
	if match == "" {
		return "", errors.Wrapf(upload.ErrNotFound, "no upload matches %q", prefix)
	}
	return match, nil
}
