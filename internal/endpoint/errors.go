package endpoint

import "github.com/qubesproject/qrexec-trigger-server/errors"

var errNotUnixConn = errors.New("endpoint: connection is not a unix socket")
