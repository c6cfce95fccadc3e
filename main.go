// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Kiln - Boot ROM flasher for BK7231 and T5 modules
//
// A CLI tool for erasing, writing, verifying and reading SPI flash through
// the chip's UART boot ROM, and for sending images over YModem.

package main

import (
	"os"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/cmd"
)

func main() {
	err := cmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
