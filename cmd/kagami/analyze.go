package main

import (
	"fmt"

	"github.com/harunnryd/kagami/internal/logger"
	"github.com/harunnryd/kagami/internal/vision/contract"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyze an image file through the provider failover chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kindFlag, _ := cmd.Flags().GetString("kind")
		kind, err := contract.ParseAnalysisKind(kindFlag)
		if err != nil {
			return err
		}
		if kind == contract.KindFaceDetection {
			return fmt.Errorf("use 'kagami faces' for face detection")
		}

		image, err := readImageFile(args[0], cfg.Server.MaxImageBytes)
		if err != nil {
			return err
		}

		ctx, _ := logger.EnsureRequestID(cmd.Context())
		orch, err := newOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}

		res, err := orch.AnalyzeImage(ctx, image, kind)
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	},
}

var facesCmd = &cobra.Command{
	Use:   "faces <image>",
	Short: "Detect faces in an image file through the provider failover chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := readImageFile(args[0], cfg.Server.MaxImageBytes)
		if err != nil {
			return err
		}

		ctx, _ := logger.EnsureRequestID(cmd.Context())
		orch, err := newOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}

		res, err := orch.DetectFaces(ctx, image)
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	},
}

func printResult(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("output")
	out, _ := cmd.Flags().GetString("out")

	data, err := encodeOutput(v, format)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), out, data)
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, facesCmd} {
		c.Flags().StringP("output", "o", "json", "output format (json, yaml)")
		c.Flags().String("out", "", "write the result to this file instead of stdout")
		rootCmd.AddCommand(c)
	}
	analyzeCmd.Flags().StringP("kind", "k", string(contract.KindScene), "analysis kind (scene, object, text, sentiment)")
}
