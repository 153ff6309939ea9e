package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/bundleassembler"
	"github.com/ardriveapp/turbo-upload-core/internal/dataitem"
	"github.com/ardriveapp/turbo-upload-core/internal/ingest"
	"github.com/ardriveapp/turbo-upload-core/internal/remoteconfig"
	"github.com/ardriveapp/turbo-upload-core/internal/tierfabric"
	"github.com/ardriveapp/turbo-upload-core/pkg/utils"
)

// HTTP route handlers, the wallet/payment layer, and the Arweave posting
// scheduler are external collaborators (§1, §6) and live outside this
// binary; turbo-core only wires and drives the streaming core.
func main() {
	rootCmd := &cobra.Command{Use: "turbo-core"}
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(bundleCmd())
	rootCmd.AddCommand(configCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	level := utils.EnvOrDefault("TURBO_LOG_LEVEL", "info")
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}

func newBreakers() *breaker.Registry {
	return breaker.New(
		breaker.DefaultSettings("remoteCache"),
		breaker.DefaultSettings("fsBackup"),
		breaker.DefaultSettings("kvDoc"),
		breaker.DefaultSettings("blobStore"),
		breaker.DefaultSettings("remoteConfig"),
	)
}

// newFabric builds a TierFabric from environment configuration. Only
// fsBackup is wired by default so the binary runs standalone without
// external services; remoteCache/kvDoc/blobStore are left for a
// deployment's own wiring to enable via Config once their client
// connections are established elsewhere.
func newFabric(log *zap.Logger, breakers *breaker.Registry) *tierfabric.TierFabric {
	fsDir := utils.EnvOrDefault("TURBO_FS_BACKUP_DIR", "./turbo-data")
	return tierfabric.New(tierfabric.Config{
		MemLRUMaxEntries: utils.EnvOrDefaultInt("TURBO_MEMLRU_MAX_ENTRIES", 10_000),
		FSBaseDir:        fsDir,
		Rates:            tierfabric.DefaultSamplingRates(),
		Logger:           log,
	}, breakers)
}

func ingestCmd() *cobra.Command {
	var declaredLen int64
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "parse, verify, and cache a single ANS-104 data item",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Sync()

			var r io.Reader = os.Stdin
			if len(args) > 0 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			breakers := newBreakers()
			fabric := newFabric(log, breakers)
			coordinator := ingest.New(fabric, log)

			res, err := coordinator.Ingest(cmd.Context(), r, declaredLen)
			if err != nil {
				return err
			}
			if !res.OK {
				fmt.Fprintf(cmd.OutOrStdout(), "item %s: invalid\n", res.ID)
				os.Exit(1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "item %s: ok, committed to %v\n", res.ID, res.StoresCommitted)
			return nil
		},
	}
	cmd.Flags().Int64Var(&declaredLen, "declared-len", -1, "expected total byte length, -1 if unknown")
	return cmd
}

func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bundle"}
	cmd.AddCommand(bundleAssembleCmd())
	return cmd
}

func bundleAssembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assemble [header-file]",
		Short: "assemble a bundle's header plus its cached items into a single stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("bundle assemble requires exactly one header-file argument")
			}
			log := newLogger()
			defer log.Sync()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			header, err := dataitem.ParseBundleHeaderInfo(f)
			if err != nil {
				return err
			}

			breakers := newBreakers()
			fabric := newFabric(log, breakers)
			asm := bundleassembler.New(header, fabric, log)

			stream, attrs := asm.Assemble(cmd.Context())
			if _, err := io.Copy(cmd.OutOrStdout(), stream); err != nil {
				return err
			}

			for _, a := range attrs.Wait() {
				fmt.Fprintf(cmd.ErrOrStderr(), "item %s offset=%d rawSize=%d payloadStart=%d contentType=%q\n",
					a.ID, a.OffsetInBundle, a.RawSize, a.PayloadStart, a.ContentType)
			}
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config"}
	show := &cobra.Command{
		Use:   "show",
		Short: "print every recognized RemoteConfig key and its resolved value",
		RunE: func(cmd *cobra.Command, args []string) error {
			breakers := newBreakers()
			rc := remoteconfig.New(nil, breakers, newLogger())
			for _, key := range remoteconfig.AllKeys() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, rc.Get(context.Background(), key))
			}
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}
