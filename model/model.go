package model

import (
	"CDEvalServer/config"
	iface "CDEvalServer/interface"
	"fmt"
	"time"
)

func New(cfg *config.Config) (iface.Model, error) {
	switch cfg.Model.Name {
	case "difference":
		return NewDifference(cfg.Model.Threshold), nil
	case "remote":
		return NewRemote(cfg.Model.RemoteURL, time.Duration(cfg.Model.TimeoutSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unsupported model: %s", cfg.Model.Name)
	}
}
