package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	musepa "github.com/cimil-org/musepa"
	"github.com/sirupsen/logrus"
)

const banner = `Welcome to

 __  __ _   _ ____  _____ ____   _
|  \/  | | | / ___|| ____|  _ \ / \
| |\/| | | | \___ \|  _| | |_) / _ \
| |  | | |_| |___) | |___|  __/ ___ \
|_|  |_|\___/|____/|_____|_| /_/   \_\
`

var (
	bindAddr     = flag.String("address", "0.0.0.0:5683", "The address:port to listen for CoAP requests on")
	backendFlag  = flag.String("endpoint", "local", "RDF backend to use: local, remote-a (single SPARQL endpoint), remote-b (dataset-style)")
	endpointFlag = flag.String("endpoint-param", "", "Backend parameter, e.g. the base URL for remote-a/remote-b")
	prefixFile   = flag.String("prefixes", "", "Path to a Turtle-formatted @prefix file to preload")
	digestUser   = flag.String("digest-user", "", "Username for HTTP digest auth against a remote backend")
	digestPass   = flag.String("digest-pass", "", "Password for HTTP digest auth against a remote backend")
	logLevel     = flag.String("log-level", "info", "Logger level: trace, debug, info, warn, error")
	verbose      = flag.Bool("v", false, "Include debug-level logging")
)

func main() {
	flag.Parse()
	fmt.Println(banner)

	log := logrus.StandardLogger()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid -log-level")
	}
	if *verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	prefixes := musepa.NewPrefixRegistry(log)
	if *prefixFile != "" {
		prefixes, err = musepa.LoadPrefixFile(*prefixFile, log)
		if err != nil {
			log.WithError(err).Fatal("failed to load prefix file")
		}
	}

	backend, err := buildBackend(log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize RDF backend")
	}

	infoDoc := []byte(fmt.Sprintf("musepa broker, backend=%s, address=%s", *backendFlag, *bindAddr))
	srv := musepa.NewServer(backend, prefixes, infoDoc, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	log.Infof("listening for CoAP on %s (backend=%s)", *bindAddr, *backendFlag)
	if err := srv.ListenAndServe("udp", *bindAddr); err != nil {
		log.WithError(err).Fatal("ListenAndServe failed")
	}
}

func buildBackend(log logrus.FieldLogger) (musepa.RdfBackend, error) {
	switch *backendFlag {
	case "local":
		return musepa.NewLocal(log), nil

	case "remote-a":
		if *endpointFlag == "" {
			return nil, fmt.Errorf("-endpoint-param is required for the remote-a backend")
		}
		if *digestUser != "" {
			return musepa.NewRemoteA(*endpointFlag, log, musepa.DigestAuth(*digestUser, *digestPass))
		}
		return musepa.NewRemoteA(*endpointFlag, log)

	case "remote-b":
		if *digestUser != "" {
			return musepa.NewRemoteB(*endpointFlag, log, musepa.DigestAuth(*digestUser, *digestPass))
		}
		return musepa.NewRemoteB(*endpointFlag, log)

	default:
		return nil, fmt.Errorf("unknown -endpoint %q: must be local, remote-a, or remote-b", *backendFlag)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of musepa:\n")
		flag.PrintDefaults()
		fmt.Println("Example: ./musepa -address 0.0.0.0:5683 -endpoint local")
		fmt.Println("Example: ./musepa -endpoint remote-b -endpoint-param http://127.0.0.1:3030/ds")
		os.Exit(0)
	}
}
