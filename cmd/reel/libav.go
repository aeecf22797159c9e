//go:build libav

package main

import _ "github.com/zsiec/reel/internal/codec/libav"
