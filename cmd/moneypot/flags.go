package main

import (
	"github.com/urfave/cli/v2"
)

const (
	idFlagName       = "id"
	allFlagName      = "all"
	potFlagName      = "pot"
	attemptFlagName  = "attempt"
	successFlagName  = "success"
	watchFlagName    = "watch"
	intervalFlagName = "interval"
	jsonFlagName     = "json"
)

var (
	potIdFlag = &cli.Uint64Flag{
		Name:     idFlagName,
		Usage:    "id of the pot",
		Required: true,
	}
	attemptIdFlag = &cli.Uint64Flag{
		Name:     idFlagName,
		Usage:    "id of the attempt",
		Required: true,
	}
	allFlag = &cli.BoolFlag{
		Name:  allFlagName,
		Usage: "list every pot ever created, not only the active ones",
	}
	tryPotFlag = &cli.Uint64Flag{
		Name:     potFlagName,
		Usage:    "id of the pot to attempt",
		Required: true,
	}
	resolveAttemptFlag = &cli.Uint64Flag{
		Name:     attemptFlagName,
		Usage:    "id of the attempt to resolve",
		Required: true,
	}
	successFlag = &cli.BoolFlag{
		Name:  successFlagName,
		Usage: "resolve the attempt as succeeded, failed otherwise",
	}
	watchFlag = &cli.BoolFlag{
		Name:  watchFlagName,
		Usage: "keep sweeping periodically until interrupted",
	}
	intervalFlag = &cli.DurationFlag{
		Name:  intervalFlagName,
		Usage: "interval between sweeps in watch mode, defaults to --sweep-interval",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  jsonFlagName,
		Usage: "print the result as json",
	}
)
