package main

import (
	"fmt"
	"os"

	"github.com/backkem/blelink/pkg/controller"
)

type ltkCmd struct {
	Secret string `arg:"" help:"The shared pairing secret."`
	Salt   string `default:"" help:"Optional salt."`
}

func (cmd *ltkCmd) Run(_ *Globals) error {
	ltk, err := controller.DeriveLongTermKey([]byte(cmd.Secret), []byte(cmd.Salt))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(os.Stdout, "LTK:  %x\nEDIV: 0x%04X\nRand: %x\n", ltk.Key, ltk.EDIV, ltk.Rand)
	return err
}
