package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/promorang/maturity/pkg/maturity"
	"github.com/promorang/maturity/pkg/maturityclient"
)

type stateOutput struct {
	MaturityState    int                                `json:"maturity_state"`
	LevelLabel       string                             `json:"level_label"`
	ActionsCount     int                                `json:"actions_count"`
	ActionsRemaining int                                `json:"actions_remaining"`
	Source           maturity.Source                    `json:"source"`
	LastFetched      *time.Time                         `json:"last_fetched,omitempty"`
	Visibility       map[maturity.Feature]maturity.Mode `json:"visibility"`
}

func stateOutputFrom(s maturityclient.State) stateOutput {
	return stateOutput{
		MaturityState:    int(s.Level),
		LevelLabel:       s.Level.Label(),
		ActionsCount:     s.ActionsCount,
		ActionsRemaining: maturity.RequiredActionsRemaining(s.Level, s.ActionsCount),
		Source:           s.Source,
		LastFetched:      s.LastFetched,
		Visibility:       s.Visibility,
	}
}

type featureOutput struct {
	Feature     maturity.Feature     `json:"feature"`
	Mode        maturity.Mode        `json:"mode"`
	Access      maturity.Access      `json:"access"`
	Explanation maturity.Explanation `json:"explanation"`
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
