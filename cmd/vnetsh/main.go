package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"

	"github.com/LukaGiorgadze/gonull"
	"github.com/abiosoft/ishell/v2"
	"github.com/integrated-reasoning/vnet/types"
	"github.com/integrated-reasoning/vnet/types/key"
	"github.com/integrated-reasoning/vnet/vnet"
)

var (
	programLevel = new(slog.LevelVar) // Info by default

	relayInfo types.RelayInformation
	token     string
	clientID  string
	useQUIC   bool

	manager *vnet.Manager
)

func main() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel, AddSource: true})
	slog.SetDefault(slog.New(h))
	programLevel.Set(slog.LevelDebug)

	shell := ishell.New()

	shell.SetHomeHistoryPath(".vnetsh_history")

	shell.Println("vnet Interactive Shell")

	traceCmd := &ishell.Cmd{
		Name: "trace",
		Help: "set log level to trace",
		Func: func(c *ishell.Context) {
			programLevel.Set(-8)
		},
	}

	debugCmd := &ishell.Cmd{
		Name: "debug",
		Help: "set log level to debug",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelDebug)
		},
	}

	infoCmd := &ishell.Cmd{
		Name: "info",
		Help: "set log level to info",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelInfo)
		},
	}

	shell.AddCmd(traceCmd)
	shell.AddCmd(debugCmd)
	shell.AddCmd(infoCmd)

	shell.AddCmd(relayCmd())
	shell.AddCmd(clientCmd())
	shell.AddCmd(netCmd())

	shell.Run()

	if manager != nil {
		manager.Destroy()
	}
}

// Relay configuration commands
func relayCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "relay",
		Help: "relay connection variables",
		Func: func(c *ishell.Context) {
			c.Println("domain:", relayInfo.Domain)
			c.Println("ips:", relayInfo.IPs)
			c.Println("insecure:", relayInfo.IsInsecure)
			c.Println("quic:", useQUIC)
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "domain",
		Help: "set relay domain",
		Func: func(c *ishell.Context) {
			var line string
			if len(c.Args) == 0 {
				c.Println("enter domain")
				line = c.ReadLine()
			} else {
				line = c.Args[0]
			}

			relayInfo.Domain = line

			c.Println("set domain")
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "ip",
		Help: "set relay ip, bypassing DNS",
		Func: func(c *ishell.Context) {
			var line string
			if len(c.Args) == 0 {
				c.Println("enter ip")
				line = c.ReadLine()
			} else {
				line = c.Args[0]
			}

			ip, err := netip.ParseAddr(line)
			if err != nil {
				c.Err(err)
				return
			}

			relayInfo.IPs = gonull.NewNullable([]netip.Addr{ip})

			c.Println("set ip")
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "port",
		Help: "set relay port",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(errors.New("set port in args"))
				return
			}

			i, err := strconv.ParseUint(c.Args[0], 10, 16)
			if err != nil {
				c.Err(err)
				return
			}

			p := gonull.NewNullable(uint16(i))
			relayInfo.HTTPPort = p
			relayInfo.HTTPSPort = p
			relayInfo.QUICPort = p

			c.Println("set port")
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "cn",
		Help: "set expected certificate common name",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(errors.New("set common name in args"))
				return
			}

			relayInfo.CertCN = gonull.NewNullable(c.Args[0])

			c.Println("set cn")
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "insecure",
		Help: "toggle plain HTTP",
		Func: func(c *ishell.Context) {
			relayInfo.IsInsecure = !relayInfo.IsInsecure
			c.Println("insecure:", relayInfo.IsInsecure)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "quic",
		Help: "toggle dialing a QUIC stream instead of TCP",
		Func: func(c *ishell.Context) {
			useQUIC = !useQUIC
			c.Println("quic:", useQUIC)
		},
	})

	return c
}

// Client identity commands
func clientCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "client",
		Help: "client identity variables",
		Func: func(c *ishell.Context) {
			c.Println("id:", clientID)
			c.Println("token set:", token != "")
			if manager != nil {
				c.Println("pub:", manager.PublicKey().Marshal())
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "id",
		Help: "set the bootstrap client id",
		Func: func(c *ishell.Context) {
			var line string
			if len(c.Args) == 0 {
				c.Println("enter client id")
				line = c.ReadLine()
			} else {
				line = c.Args[0]
			}

			clientID = line

			c.Println("set id")
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "token",
		Help: "set the auth token",
		Func: func(c *ishell.Context) {
			var line string
			if len(c.Args) == 0 {
				c.Println("enter token")
				line = c.ReadLine()
			} else {
				line = c.Args[0]
			}

			token = line

			c.Println("set token")
		},
	})

	return c
}

// Network lifecycle and traffic commands
func netCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "net",
		Help: "connection lifecycle and traffic",
		Func: func(c *ishell.Context) {
			if manager == nil {
				c.Println("net: not created")
				return
			}
			c.Println("state:", manager.State())
			c.Println("queued:", manager.QueueLen())
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "connect",
		Help: "create the manager and start connecting",
		Func: func(c *ishell.Context) {
			if manager != nil {
				c.Err(errors.New("already created, destroy first"))
				return
			}

			m, err := vnet.NewManager(vnet.Config{
				Relay:    relayInfo,
				Dialer:   &vnet.StreamDialer{Relay: relayInfo, UseQUIC: useQUIC},
				Token:    token,
				ClientID: clientID,
				OnPacket: func(src key.NodePublic, pkt []byte) {
					slog.Info("packet received", "src", src.Debug(), "len", len(pkt))
				},
				OnGiveUp: func(err error) {
					slog.Error("gave up on relay", "err", err)
				},
			})
			if err != nil {
				c.Err(err)
				return
			}

			manager = m

			if err := manager.Connect(); err != nil {
				c.Err(err)
				return
			}

			c.Println("connecting as", manager.PublicKey().Marshal())
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send a packet: <pubkey:hex> <hex data>",
		Func: func(c *ishell.Context) {
			if manager == nil {
				c.Err(errors.New("not connected"))
				return
			}
			if len(c.Args) < 2 {
				c.Err(errors.New("not enough arguments, expected 2"))
				return
			}

			peerKey, err := key.UnmarshalPublic(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}

			data, err := hex.DecodeString(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}

			manager.SendTo(data, *peerKey)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "peers",
		Help: "list present peers",
		Func: func(c *ishell.Context) {
			if manager == nil {
				c.Err(errors.New("not connected"))
				return
			}

			for _, p := range manager.Peers() {
				c.Println(p.Marshal())
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "stats",
		Help: "show traffic counters",
		Func: func(c *ishell.Context) {
			if manager == nil {
				c.Err(errors.New("not connected"))
				return
			}

			s := manager.GetStats()
			c.Println(fmt.Sprintf("sent: %d pkt / %d B", s.PacketsSent, s.BytesSent))
			c.Println(fmt.Sprintf("received: %d pkt / %d B", s.PacketsReceived, s.BytesReceived))
			c.Println("dropped:", s.PacketsDropped)
			c.Println("reconnect attempts:", s.ReconnectAttempts)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "destroy",
		Help: "tear the connection down",
		Func: func(c *ishell.Context) {
			if manager == nil {
				return
			}

			manager.Destroy()
			manager = nil

			c.Println("destroyed")
		},
	})

	return c
}
