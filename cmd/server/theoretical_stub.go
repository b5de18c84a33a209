//go:build !linux

package main

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/goceleris/ringserver/internal/config"
)

// runIOUring is a stub for non-Linux platforms.
func runIOUring(cfg config.Config, log logrus.FieldLogger) error {
	return errors.New("io_uring servers are only supported on Linux")
}

// runEpoll is a stub for non-Linux platforms.
func runEpoll(cfg config.Config, log logrus.FieldLogger) error {
	return errors.New("epoll servers are only supported on Linux")
}
