package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wondertwin-ai/safmiles/internal/config"
	"github.com/wondertwin-ai/safmiles/internal/flight"
	"github.com/wondertwin-ai/safmiles/internal/loyalty"
	"github.com/wondertwin-ai/safmiles/internal/predict"
	"github.com/wondertwin-ai/safmiles/internal/session"
)

var predictOpts struct {
	raw        flight.RawInput
	history    flight.RawHistory
	scoringURL string
	claim      bool
	output     string
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score one flight and print the loyalty view",
	Long: `Submit one flight to the scoring service and print the resulting session:
the prediction, the derived loyalty view and, with --claim, the SAF Coin
acknowledgement.

When --distance is omitted the route's standard distance is used.`,
	Example: `  safmiles predict --premium 25 --baseline-miles 19995 --flights-taken 10
  safmiles predict --route HKG-SYD --premium 40 --saf-blend 0.3 -o yaml --claim`,
	RunE: runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictOpts.raw.Tier, "tier", string(flight.TierGold), "Loyalty tier: Gold, Silver or None")
	f.StringVar(&predictOpts.raw.Cabin, "cabin", string(flight.CabinBusiness), "Cabin class: Business or Economy")
	f.StringVar(&predictOpts.raw.Route, "route", string(flight.RouteLHR), "Route, e.g. HKG-LHR")
	f.StringVar(&predictOpts.raw.DistanceKM, "distance", "", "Flight distance in km (default: route distance)")
	f.StringVar(&predictOpts.raw.Premium, "premium", "", "SAF premium paid")
	f.StringVar(&predictOpts.raw.SAFBlend, "saf-blend", "0.2", fmt.Sprintf("SAF blend fraction %g-%g", flight.MinSAFBlend, flight.MaxSAFBlend))
	f.StringVar(&predictOpts.history.BaselineMiles, "baseline-miles", "0", "SAF miles already earned")
	f.StringVar(&predictOpts.history.FlightsTaken, "flights-taken", "0", "SAF flights already taken")
	f.StringVar(&predictOpts.scoringURL, "scoring-url", "", "Scoring service URL (overrides config)")
	f.BoolVar(&predictOpts.claim, "claim", false, "Claim the SAF Coin if the prompt shows")
	f.StringVarP(&predictOpts.output, "output", "o", "json", "Output format: json or yaml")
	_ = predictCmd.MarkFlagRequired("premium")
}

// withRouteDistance fills an empty distance from the route table.
func withRouteDistance(raw flight.RawInput) flight.RawInput {
	if strings.TrimSpace(raw.DistanceKM) != "" {
		return raw
	}
	if r, err := flight.ParseRoute(strings.TrimSpace(raw.Route)); err == nil {
		raw.DistanceKM = strconv.FormatFloat(flight.DefaultDistance(r), 'f', -1, 64)
	}
	return raw
}

type predictOutput struct {
	Session      session.State         `json:"session"`
	Notification *loyalty.Notification `json:"notification,omitempty"`
}

func runPredict(cmd *cobra.Command, _ []string) error {
	format := strings.ToLower(predictOpts.output)
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown output format %q: use json or yaml", predictOpts.output)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	url := cfg.Scoring.URL
	if predictOpts.scoringURL != "" {
		url = predictOpts.scoringURL
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	sessions := session.NewManager(session.Config{
		Predictor: predict.New(predict.Config{BaseURL: url, Timeout: cfg.Scoring.Timeout, Logger: logger}),
		Notifier:  loyalty.LogNotifier{Logger: logger},
		Logger:    logger,
	})
	s := sessions.Create()
	defer sessions.Reset()

	s.UpdateHistory(predictOpts.history)
	st, err := s.Submit(cmd.Context(), withRouteDistance(predictOpts.raw))
	if err != nil {
		return err
	}

	out := predictOutput{Session: st}
	if predictOpts.claim {
		if !st.View.ShowPrompt {
			fmt.Fprintln(cmd.ErrOrStderr(), "SAF Coin prompt is not showing; nothing to claim")
		} else if out.Session, out.Notification, err = s.Claim(cmd.Context()); err != nil {
			return err
		}
	}
	return writeOutput(cmd.OutOrStdout(), format, out)
}

// writeOutput prints v as indented JSON or as YAML. YAML keys follow the JSON
// field names.
func writeOutput(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
