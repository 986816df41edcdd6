package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/app"
	"github.com/dharsanguruparan/averbadrop/internal/config"
	"github.com/dharsanguruparan/averbadrop/internal/database"
	"github.com/dharsanguruparan/averbadrop/internal/logging"
	"github.com/dharsanguruparan/averbadrop/internal/model"
	"github.com/dharsanguruparan/averbadrop/internal/uploads"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "averbadrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "averbadrop",
		Short: "averbadrop operations CLI",
		Long: `averbadrop CLI applies schema migrations and runs the upload lifecycle
operations directly against the configured database and object store.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newUploadsCmd(),
	)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return database.Migrate(cfg.DatabaseURL, logger)
		},
	}
}

func newUploadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Inspect and manage uploads",
	}
	cmd.AddCommand(
		newListCmd(),
		newPrepareCmd(),
		newCompleteCmd(),
		newDeleteCmd(),
	)
	return cmd
}

func newListCmd() *cobra.Command {
	var parentType string
	var excludeDeleted bool
	cmd := &cobra.Command{
		Use:   "list <parent-id>",
		Short: "List a parent's uploads, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parent id: %w", err)
			}
			return withService(cmd, func(ctx context.Context, svc *uploads.Service) (any, error) {
				return svc.ListUploads(ctx, uploads.ListRequest{
					Parent:         model.ParentRef{ID: id, Type: parentType},
					ExcludeDeleted: excludeDeleted,
				})
			})
		},
	}
	cmd.Flags().StringVarP(&parentType, "type", "t", "", "Parent type (table discriminator)")
	cmd.Flags().BoolVar(&excludeDeleted, "exclude-deleted", false, "Hide soft-deleted uploads")
	return cmd
}

func newPrepareCmd() *cobra.Command {
	var contentType, folder string
	cmd := &cobra.Command{
		Use:   "prepare <filename>",
		Short: "Issue a presigned PUT URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *uploads.Service) (any, error) {
				return svc.PreparePut(ctx, uploads.PrepareRequest{Filename: args[0], ContentType: contentType, Folder: folder})
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type the client will PUT")
	cmd.Flags().StringVar(&folder, "folder", "", "Key prefix")
	return cmd
}

func newCompleteCmd() *cobra.Command {
	var parentID int64
	var parentType, metadata string
	cmd := &cobra.Command{
		Use:   "complete <key>",
		Short: "Verify an uploaded object and attach it to a parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := uploads.CompleteRequest{Key: args[0]}
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &req.Metadata); err != nil {
					return fmt.Errorf("metadata: %w", err)
				}
			}
			if parentID > 0 {
				req.Parent = &model.ParentRef{ID: parentID, Type: parentType}
			}
			return withService(cmd, func(ctx context.Context, svc *uploads.Service) (any, error) {
				return svc.CompleteUpload(ctx, req)
			})
		},
	}
	cmd.Flags().Int64Var(&parentID, "parent", 0, "Parent id to attach to")
	cmd.Flags().StringVarP(&parentType, "type", "t", "", "Parent type (table discriminator)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON object merged into the upload metadata")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <upload-id>",
		Short: "Delete an object, soft delete its record and detach it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("upload id: %w", err)
			}
			return withService(cmd, func(ctx context.Context, svc *uploads.Service) (any, error) {
				return svc.DeleteUpload(ctx, id)
			})
		},
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, _ := logging.New(cfg.LogLevel)
	return cfg, logger, nil
}

// withService builds the app, runs fn and prints its result as JSON.
func withService(cmd *cobra.Command, fn func(context.Context, *uploads.Service) (any, error)) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a.Uploads)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
