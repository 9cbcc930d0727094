package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagServer   string
	flagPSK      string
	flagUsername string
	flagPassword string
	flagRegister bool
	flagCall     string
	flagSendFile string
	flagOutDir   string
	flagSTUN     string
	flagHelp     bool
)

func init() {
	flag.StringVarP(&flagServer, "server", "s", "127.0.0.1:7777", "Signaling server address")
	flag.StringVarP(&flagPSK, "psk", "p", "change-me", "Pre-shared key for signaling framing")
	flag.StringVarP(&flagUsername, "username", "u", "", "Account username")
	flag.StringVarP(&flagPassword, "password", "w", "", "Account password")
	flag.BoolVarP(&flagRegister, "register", "r", false, "Register the account before logging in")
	flag.StringVarP(&flagCall, "call", "c", "", "Username to invite once logged in")
	flag.StringVarP(&flagSendFile, "send-file", "f", "", "File to offer once a call is established")
	flag.StringVarP(&flagOutDir, "out-dir", "o", ".", "Directory received files are written to")
	flag.StringVarP(&flagSTUN, "stun", "", "", "Public STUN server for srflx gathering (host:port)")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `Peer endpoint: signaling client plus media/data engine

Usage: roomrtcpeer -u USER -w PASS [OPTION]...

Account:
  -u, --username=NAME    Account username
  -w, --password=PASS    Account password
  -r, --register         Register the account before logging in

Network:
  -s, --server=ADDR      Signaling server address (default: 127.0.0.1:7777)
  -p, --psk=KEY          Pre-shared key for signaling framing
      --stun=ADDR        Public STUN server for srflx gathering

Call:
  -c, --call=NAME        Username to invite once logged in
  -f, --send-file=FILE   File to offer once a call is established
  -o, --out-dir=DIR      Directory received files are written to (default: .)

Miscellaneous:
  -h, --help             Prints this help message and exits

Camera/microphone capture and H.264/Opus codecs are external
collaborators this binary does not provide; it exercises the ICE,
DTLS, SRTP, and SCTP/file-transfer core without a media pipeline.
`

func help() {
	fmt.Print(color.New(color.Bold).Sprint(helpString))
}
