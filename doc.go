// Package buskit provides master-mode transaction engines for serial
// peripheral buses: addressed buses with start/stop framing and per-byte
// acknowledgement (package i2c) and chip-select full-duplex buses
// (package spi).
//
// Hardware access goes through small backend interfaces; ready-made
// backends for USB bridges, serial bridges, GPIO bit-banging and the
// Linux kernel drivers live under adapter. Exemplar drivers built on the
// engines live under devices.
package buskit
