package main

import (
	"context"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	service "github.com/okian/trendcast/internal/app"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/logger"
)

type scanOutput struct {
	Report     service.CycleReport    `json:"report"`
	Signatures []model.TrendSignature `json:"signatures"`
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle and print the report and active signatures as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return scan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func scan(ctx context.Context, out, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(ctx, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	svc, err := service.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	report, err := svc.RunCycle(ctx)
	if err != nil {
		return err
	}
	sigs, err := svc.Signatures(ctx)
	if err != nil {
		return err
	}
	if sigs == nil {
		sigs = []model.TrendSignature{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(scanOutput{Report: report, Signatures: sigs})
}
