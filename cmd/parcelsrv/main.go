// Package parcelsrv is an example acceptor process composing transport
// with the external collaborators spec §1 leaves outside its scope: a
// TCP listener, an optional bearer-token check, and an operational
// sidecar exposing health and metrics.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/nxconn/nxconn/cmn/cos"
	"github.com/nxconn/nxconn/cmn/nlog"
	"github.com/nxconn/nxconn/transport"
)

var (
	build     string
	buildtime string
)

var (
	listenAddr string
	sidecarAddr string
	fileRoot   string
	jwtSecret  string
)

func init() {
	flag.StringVar(&listenAddr, "listen", ":7070", "TCP address to accept connections on")
	flag.StringVar(&sidecarAddr, "sidecar", ":7071", "address for the /healthz and /metrics sidecar")
	flag.StringVar(&fileRoot, "file-root", "", "root directory FILE sends are written under")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "if set, every dialer must present a bearer token signed with this secret")
}

func main() {
	flag.Parse()
	installSignalHandler()

	nlog.Infof("parcelsrv %s (build %s) listening on %s", versionString(), buildtime, listenAddr)

	go serveSidecar()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		cos.ExitLogf("listen on %s: %v", listenAddr, err)
	}
	defer ln.Close()

	for {
		nc, err := ln.Accept()
		if err != nil {
			nlog.Errorf("accept failed: %v", err)
			continue
		}
		go handleAccept(nc)
	}
}

func handleAccept(nc net.Conn) {
	if jwtSecret != "" {
		if err := checkBearerToken(nc); err != nil {
			nlog.Warningf("rejecting %s: %v", nc.RemoteAddr(), err)
			nc.Close()
			return
		}
	}

	p := transport.DefaultParams()
	p.FileRootDir = fileRoot

	conn, err := transport.Accept(nc, p)
	if err != nil {
		nlog.Errorf("handshake with %s failed: %v", nc.RemoteAddr(), err)
		return
	}
	conn.AddListener(transport.ListenerFunc(func(ev transport.Event) {
		logEvent(nc.RemoteAddr().String(), ev)
	}))
}

// checkBearerToken reads one newline-terminated token line the dialer
// sends immediately after connecting, ahead of transport's own
// handshake - this keeps jwt/v4 confined to cmd/, as spec §1 draws the
// acceptor/dialer boundary around transport itself.
func checkBearerToken(nc net.Conn) error {
	_ = nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer nc.SetReadDeadline(time.Time{})

	line, err := bufio.NewReader(nc).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read bearer token: %w", err)
	}
	token := line[:len(line)-1]
	_, err = jwt.Parse(token, func(*jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return fmt.Errorf("invalid bearer token: %w", err)
	}
	return nil
}

func logEvent(peer string, ev transport.Event) {
	switch ev.Kind {
	case transport.EvtObjectAborted, transport.EvtFileAborted:
		nlog.Warningf("%s: %s obj=%d code=%d err=%v", peer, ev.Kind, ev.ObjectID, ev.Code, ev.Err)
	case transport.EvtFileReceived:
		nlog.Infof("%s: FILE_RECEIVED obj=%d path=%s", peer, ev.ObjectID, ev.Path)
	case transport.EvtClosed:
		nlog.Infof("%s: CLOSED cause=%d", peer, ev.Code)
	default:
		nlog.Infof("%s: %s", peer, ev.Kind)
	}
}

// serveSidecar exposes liveness and Prometheus metrics over fasthttp,
// wrapping promhttp's stdlib handler with fasthttpadaptor rather than
// running a second net/http listener.
func serveSidecar() {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/healthz":
				ctx.SetStatusCode(fasthttp.StatusOK)
				ctx.SetBodyString("ok")
			case "/metrics":
				metricsHandler(ctx)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		},
	}
	if err := srv.ListenAndServe(sidecarAddr); err != nil {
		nlog.Errorf("sidecar server failed: %v", err)
	}
}

func installSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		nlog.Flush(true)
		os.Exit(0)
	}()
}

func versionString() string {
	if build == "" {
		return "dev"
	}
	return build
}
