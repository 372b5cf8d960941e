package main

import (
	"fmt"
	"os"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/crypto"
	"github.com/backkem/blelink/pkg/enc"
	"github.com/backkem/blelink/pkg/keyengine"
)

// The defaults reproduce the Bluetooth Core encryption sample data.
type sessionKeyCmd struct {
	LTK  string `name:"ltk" default:"4c68384139f574d836bcf34e9dfb01bf" help:"Long-term key, most significant octet first."`
	SKDm string `name:"skdm" default:"1302f1e0dfcebdac" help:"Master SKD half, on-air order."`
	IVm  string `name:"ivm" default:"24abdcba" help:"Master IV half, on-air order."`
	SKDs string `name:"skds" default:"7968574635241302" help:"Slave SKD half, on-air order."`
	IVs  string `name:"ivs" default:"bebaafde" help:"Slave IV half, on-air order."`
}

func (cmd *sessionKeyCmd) Run(g *Globals) error {
	engine := keyengine.NewEngine(keyengine.Config{LoggerFactory: g.loggerFactory()})
	sk, iv, err := cmd.compute(engine)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(os.Stdout, "SK: %x\nIV: %x\n", sk, iv)
	return err
}

func (cmd *sessionKeyCmd) compute(engine *keyengine.Engine) (sk [crypto.BlockSize]byte, iv [crypto.IVSize]byte, err error) {
	ltk, err := decodeHex("ltk", cmd.LTK, conn.KeySize)
	if err != nil {
		return sk, iv, err
	}

	var master, slave conn.Vectors
	for _, f := range []struct {
		name string
		src  string
		dst  []byte
	}{
		{"skdm", cmd.SKDm, master.SKD[:]},
		{"ivm", cmd.IVm, master.IV[:]},
		{"skds", cmd.SKDs, slave.SKD[:]},
		{"ivs", cmd.IVs, slave.IV[:]},
	} {
		b, err := decodeHex(f.name, f.src, len(f.dst))
		if err != nil {
			return sk, iv, err
		}
		copy(f.dst, b)
	}

	var key [crypto.BlockSize]byte
	copy(key[:], ltk)

	skd, iv := enc.SessionKeyInputs(conn.RoleMaster, master, slave)
	sk, err = engine.Encrypt(key, skd)
	return sk, iv, err
}
