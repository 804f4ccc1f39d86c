// Package parcelcli is an example dialer process composing transport
// with the external collaborators spec §1 leaves outside its scope: a
// TCP dial, an optional bearer token, and a couple of demonstration
// sends.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/nxconn/nxconn/cmn/cos"
	"github.com/nxconn/nxconn/cmn/nlog"
	"github.com/nxconn/nxconn/transport"
)

var (
	serverAddr string
	jwtSecret  string
	sendFile   string
	destPath   string
)

func init() {
	flag.StringVar(&serverAddr, "server", "127.0.0.1:7070", "parcelsrv address to dial")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "if set, signs and sends a bearer token before the handshake")
	flag.StringVar(&sendFile, "send-file", "", "local file to transmit, if any")
	flag.StringVar(&destPath, "dest-path", "", "destination path asserted in the FILE header (defaults to -send-file's base name)")
}

func main() {
	flag.Parse()

	nc, err := net.Dial("tcp", serverAddr)
	if err != nil {
		cos.ExitLogf("dial %s: %v", serverAddr, err)
	}

	if jwtSecret != "" {
		if err := sendBearerToken(nc); err != nil {
			cos.ExitLogf("send bearer token: %v", err)
		}
	}

	p := transport.DefaultParams()
	conn, err := transport.DialConn(nc, p)
	if err != nil {
		cos.ExitLogf("handshake with %s failed: %v", serverAddr, err)
	}
	conn.AddListener(transport.ListenerFunc(func(ev transport.Event) {
		nlog.Infof("%s: %s", serverAddr, ev.Kind)
	}))

	if sendFile != "" {
		dp := destPath
		if dp == "" {
			dp = filepath.Base(sendFile)
		}
		if err := conn.SendFile(sendFile, dp, transport.Normal); err != nil {
			nlog.Errorf("send-file failed: %v", err)
		}
	} else {
		if err := conn.SendObject(map[string]string{"hello": "parcelsrv"}, transport.Normal); err != nil {
			nlog.Errorf("send-object failed: %v", err)
		}
	}

	time.Sleep(2 * time.Second)
	_ = conn.Close()
	nlog.Flush(true)
}

// sendBearerToken dials the server's own pre-handshake bearer-token
// line (see cmd/parcelsrv), entirely outside transport's wire format.
func sendBearerToken(nc net.Conn) error {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "parcelcli",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return fmt.Errorf("sign bearer token: %w", err)
	}
	_, err = fmt.Fprintf(nc, "%s\n", signed)
	return err
}
