package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.bug.st/serial"

	"github.com/peregrine-vr/flightreplay/session"
)

var wsaddr = flag.String("ws", "", "WebSocket service bind address (overrides REPLAY_WS_ADDR)")
var restaddr = flag.String("rest", "", "RESTful API bind address (overrides REPLAY_HTTP_ADDR)")

func main() {

	flag.Parse()

	cfg := session.Load()
	if *wsaddr != "" {
		cfg.WSAddr = *wsaddr
	}
	if *restaddr != "" {
		cfg.HTTPAddr = *restaddr
	}

	backendType := session.StorageBackendMem
	if cfg.RedisAddr != "" {
		backendType = session.StorageBackendRedis
	}
	storage, err := session.NewStorageBackend(backendType, cfg.RedisAddr)
	if err != nil {
		log.Fatal("storage backend: ", err)
	}

	metrics := session.NewMetrics(prometheus.DefaultRegisterer)
	server := session.NewServer(cfg, storage, metrics)

	if cfg.SerialPort != "" {
		mode := &serial.Mode{
			BaudRate: cfg.SerialBaud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(cfg.SerialPort, mode)
		if err != nil {
			log.Fatalf("Failed to open serial port %s: %v", cfg.SerialPort, err)
		}
		defer port.Close()
		server.SetNMEAOutput(port)
		log.Printf("NMEA output on %s at %d baud", cfg.SerialPort, cfg.SerialBaud)
	}

	wsMux := session.NewReplayWSMux(server)

	restMux := http.NewServeMux()
	restMux.Handle("/", session.NewReplayRestMux(server))
	restMux.Handle("/metrics", promhttp.Handler())

	go server.Run(context.Background())

	go func() {
		withCORS := cors.Default().Handler(restMux)
		log.Fatal("RESTful API: ", http.ListenAndServe(cfg.HTTPAddr, withCORS))
	}()
	// TODO: use TLS
	err = http.ListenAndServe(cfg.WSAddr, wsMux)
	if err != nil {
		log.Fatal("WSServer: ", err)
	}
}
