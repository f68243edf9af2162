package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

func (a *app) printNotice(w io.Writer) {
	if notice := a.ctrl.Snapshot().Notice; notice != "" {
		fmt.Fprintln(w, notice)
	}
}

func (a *app) contextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "contexts",
		Short: "List the workspaces you belong to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := a.ctrl.RefreshContexts(cmd.Context(), a.contextFlag)
			if err != nil {
				return err
			}
			snap := a.ctrl.Snapshot()
			if len(snap.Contexts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workspaces")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tNAME\tROLE\tQUOTA")
			for _, c := range snap.Contexts {
				marker := ""
				if active != nil && c.ID == active.ID {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker, c.ID, c.Name, c.Role, c.QuotaLabel())
			}
			return w.Flush()
		},
	}
}

func (a *app) useCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Make a workspace the default for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.ctrl.SelectContext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.entered(cmd, "Using", c)
		},
	}
}

func (a *app) lsCommand() *cobra.Command {
	var (
		filter string
		tree   bool
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files of the active workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := a.activate(cmd.Context())
			if err != nil {
				return err
			}
			a.ctrl.SetQuery(filter)
			snap := a.ctrl.Snapshot()
			out := cmd.OutOrStdout()
			if tree {
				fmt.Fprint(out, renderTree(*active, snap.View, snap.Filtered))
				return nil
			}
			return writeTable(out, snap.Filtered)
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only show names containing this text")
	cmd.Flags().BoolVar(&tree, "tree", false, "Render the listing as a tree")
	return cmd
}

func writeTable(out io.Writer, files []models.FileRecord) error {
	if len(files) == 0 {
		fmt.Fprintln(out, "No files")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tDATE\tSHARED BY")
	for _, f := range files {
		name := f.Name
		if !f.IsFile {
			name += "/"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.ContentID, name, f.SizeLabel, f.DateLabel, f.SharedBy)
	}
	return w.Flush()
}

func (a *app) uploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files to the active workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.activate(cmd.Context()); err != nil {
				return err
			}
			var failed int
			for _, path := range args {
				if err := a.uploadFile(cmd, path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
}

func (a *app) uploadFile(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a folder, use upload-folder")
	}
	rec, err := a.ctrl.Upload(cmd.Context(), filepath.Base(path), f, info.Size())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s) as %s\n", rec.Name, rec.SizeLabel, rec.ContentID)
	return nil
}

func (a *app) uploadFolderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload-folder <dir>",
		Short: "Upload a folder as one archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.activate(cmd.Context()); err != nil {
				return err
			}
			rec, err := a.ctrl.UploadFolder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded folder %s (%s) as %s\n", rec.Name, rec.SizeLabel, rec.ContentID)
			return nil
		},
	}
}

func (a *app) renameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <new-name>",
		Short: "Rename a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.activate(cmd.Context()); err != nil {
				return err
			}
			rec, err := a.ctrl.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", rec.ContentID, rec.Name)
			return nil
		},
	}
}

func (a *app) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete one or several files",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.activate(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if err := a.ctrl.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %s\n", args[0])
				return nil
			}

			summary, err := a.ctrl.DeleteMany(cmd.Context(), args)
			fmt.Fprintf(out, "Deleted %d, failed %d, not owned %d\n", summary.Successful, summary.Failed, summary.NotOwned)
			for _, id := range summary.FailedIDs {
				fmt.Fprintf(out, "  failed: %s\n", id)
			}
			for _, id := range summary.NotOwnedIDs {
				fmt.Fprintf(out, "  not owned: %s\n", id)
			}
			return err
		},
	}
}

func (a *app) getCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <id>...",
		Short: "Download files; several ids are fetched as one archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := a.activate(cmd.Context())
			if err != nil {
				return err
			}
			path := output
			if path == "" {
				path = a.defaultDownloadName(*active, args)
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}

			var n int64
			if len(args) == 1 {
				n, err = a.ctrl.Download(cmd.Context(), args[0], f)
			} else {
				n, err = a.ctrl.DownloadMany(cmd.Context(), args, f)
			}
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(path)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", path, humanize.Bytes(uint64(n)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file")
	return cmd
}

func (a *app) defaultDownloadName(active models.Context, ids []string) string {
	if len(ids) > 1 {
		return active.Name + ".zip"
	}
	files := a.ctrl.Snapshot().Files
	if i := models.IndexOf(files, ids[0]); i >= 0 {
		name := filepath.Base(files[i].Name)
		if !files[i].IsFile {
			name += ".zip"
		}
		return name
	}
	return ids[0]
}

func (a *app) shareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "share <id> <email>...",
		Short: "Share a file you own with other members",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.activate(cmd.Context()); err != nil {
				return err
			}
			if _, err := a.ctrl.Share(cmd.Context(), args[0], args[1:]); err != nil {
				return err
			}
			a.printNotice(cmd.OutOrStdout())
			return nil
		},
	}
}

func (a *app) createCommand() *cobra.Command {
	var secret, role string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := readSecret(cmd, secret)
			if err != nil {
				return err
			}
			c, err := a.ctrl.CreateContext(cmd.Context(), args[0], s, models.Role(role))
			if err != nil {
				return err
			}
			return a.entered(cmd, "Created", c)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret (prompted when empty)")
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "Your role in the new workspace")
	return cmd
}

func (a *app) joinCommand() *cobra.Command {
	var secret, role string
	cmd := &cobra.Command{
		Use:   "join <name>",
		Short: "Join a workspace with its shared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := readSecret(cmd, secret)
			if err != nil {
				return err
			}
			c, err := a.ctrl.JoinContext(cmd.Context(), args[0], s, models.Role(role))
			if err != nil {
				return err
			}
			return a.entered(cmd, "Joined", c)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret (prompted when empty)")
	cmd.Flags().StringVar(&role, "role", string(models.RoleViewer), "Requested role")
	return cmd
}

func (a *app) entered(cmd *cobra.Command, verb string, c *models.Context) error {
	if c == nil {
		return fmt.Errorf("%s workspace is not listed", strings.ToLower(verb))
	}
	if err := a.session.Remember(cmd.Context(), c.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, c.Name, c.ID)
	return nil
}

func (a *app) leaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "leave [id]",
		Short: "Leave a workspace (the active one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				active, err := a.activate(cmd.Context())
				if err != nil {
					return err
				}
				id = active.ID
			}
			next, err := a.ctrl.LeaveContext(cmd.Context(), id)
			if err != nil {
				return err
			}
			nextID := ""
			if next != nil {
				nextID = next.ID
			}
			if err := a.session.Remember(cmd.Context(), nextID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Left %s\n", id)
			return nil
		},
	}
}

// readSecret returns flagValue or prompts for it without echo.
func readSecret(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Secret: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(b), nil
}
