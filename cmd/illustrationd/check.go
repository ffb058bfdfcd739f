package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"illustrationd/internal/manager"
)

// checkReport is printed by `illustrationd check`.
type checkReport struct {
	Pipeline manager.SanityReport `json:"pipeline"`
	Storage  string               `json:"storage"`
	Trainer  string               `json:"trainer"`
	OK       bool                 `json:"ok"`
}

func checkCmd(cmd *cobra.Command, o *cliOptions) error {
	cfg, err := loadConfig(cmd, o, osLookup)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	a, err := buildApp(ctx, cfg, "off", zerolog.Nop())
	if err != nil {
		return err
	}
	defer a.close()

	rep := runChecks(ctx, a)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if !rep.OK {
		return errors.New("checks failed")
	}
	return nil
}

func runChecks(ctx context.Context, a *app) checkReport {
	rep := checkReport{Pipeline: a.manager.SanityCheck(ctx), Storage: "ok", Trainer: "ok"}
	if _, err := a.store.List(ctx, a.keys.SubjectPrefix+"healthcheck"); err != nil {
		rep.Storage = fmt.Sprintf("error: %v", err)
	}
	if err := a.trainer.Check(); err != nil {
		rep.Trainer = fmt.Sprintf("unavailable: %v", err)
	}
	rep.OK = rep.Pipeline.OK() && rep.Storage == "ok"
	return rep
}
