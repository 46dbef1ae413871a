package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/nsboot/nsboot"
)

type Config struct {
	Server string `json:"server"`
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nsboot", "config.json"), nil
}

func getConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("nsboot is not initialized, run: nsboot init <server>")
	}
	var cfg Config
	err = json.Unmarshal(data, &cfg)
	return &cfg, err
}

func getAPI() (*nsboot.API, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return nsboot.NewAPI(nil, cfg.Server), nil
}

func main() {
	cliapp := &cli.App{
		Name:  "nsboot",
		Usage: "manage a diskless boot server",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "initialize nsboot, init <server:port>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return errors.New("you must supply the nsbootd server address")
					}
					path, err := configPath()
					if err != nil {
						return err
					}
					if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
						return err
					}
					data, err := json.MarshalIndent(Config{Server: c.Args().First()}, "", "  ")
					if err != nil {
						return err
					}
					return os.WriteFile(path, data, 0644)
				},
			},
			{
				Name:  "status",
				Usage: "show server status",
				Action: func(c *cli.Context) error {
					api, err := getAPI()
					if err != nil {
						return err
					}
					s, err := api.Status()
					if err != nil {
						return err
					}
					fmt.Printf("Server    %s\n", s.Address)
					fmt.Printf("Pool      %s (%d used / %d total)\n", s.Pool.Name, s.Pool.Used, s.Pool.Size)
					fmt.Printf("Clients   %d\n", s.Clients)
					fmt.Printf("Masters   %d\n", s.Masters)
					fmt.Printf("Snaps     %d\n", s.Snaps)
					fmt.Printf("Load      %.2f %.2f %.2f\n", s.Load1, s.Load5, s.Load15)
					return nil
				},
			},
			{
				Name:  "client",
				Usage: "manage diskless clients",
				Subcommands: []*cli.Command{
					{
						Name: "list",
						Action: func(c *cli.Context) error {
							api, err := getAPI()
							if err != nil {
								return err
							}
							clients, err := api.GetClients()
							if err != nil {
								return err
							}
							w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
							fmt.Fprintln(w, "NAME\tMAC\tIP\tMASTER\tSNAPSHOT\tMODE\tSTATUS")
							for _, cl := range clients {
								fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
									cl.Name, cl.MAC, cl.IP, cl.Master, cl.Snapshot, cl.Mode, cl.Status)
							}
							return w.Flush()
						},
					},
					{
						Name: "add",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "mac", Required: true},
							&cli.StringFlag{Name: "ip", Required: true},
							&cli.StringFlag{Name: "master", Required: true},
							&cli.StringFlag{Name: "snapshot"},
						},
						Action: func(c *cli.Context) error {
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.AddClient(nsboot.AddClientRequest{
								Name:     c.String("name"),
								MAC:      c.String("mac"),
								IP:       c.String("ip"),
								Master:   c.String("master"),
								Snapshot: c.String("snapshot"),
							})
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
					{
						Name:  "edit",
						Usage: "edit <id>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "mac", Required: true},
							&cli.StringFlag{Name: "ip", Required: true},
							&cli.StringFlag{Name: "master", Required: true},
							&cli.StringFlag{Name: "snapshot"},
						},
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 1 {
								return errors.New("you must supply the client id")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.EditClient(c.Args().First(), nsboot.AddClientRequest{
								Name:     c.String("name"),
								MAC:      c.String("mac"),
								IP:       c.String("ip"),
								Master:   c.String("master"),
								Snapshot: c.String("snapshot"),
							})
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
					{
						Name:  "rm",
						Usage: "rm <id>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 1 {
								return errors.New("you must supply the client id")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.DeleteClient(c.Args().First())
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
					{
						Name:  "control",
						Usage: "control <id> <reboot|shutdown|wake|reset>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 2 {
								return errors.New("you must supply the client id and an action")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.ControlClient(c.Args().First(), nsboot.ClientAction(c.Args().Get(1)))
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
				},
			},
			{
				Name:  "master",
				Usage: "manage master images",
				Subcommands: []*cli.Command{
					{
						Name: "list",
						Action: func(c *cli.Context) error {
							api, err := getAPI()
							if err != nil {
								return err
							}
							masters, err := api.GetMasters()
							if err != nil {
								return err
							}
							w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
							fmt.Fprintln(w, "NAME\tSIZE\tDEFAULT\tSNAPSHOTS")
							for _, m := range masters {
								def := ""
								if m.Default {
									def = "*"
								}
								fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", m.Name, m.Size, def, len(m.Snapshots))
								for _, s := range m.Snapshots {
									fmt.Fprintf(w, "  %s@%s\t\t\t%s\n", m.Name, s.Name, s.CreatedAt.Format("2006-01-02 15:04:05"))
								}
							}
							return w.Flush()
						},
					},
					{
						Name:  "create",
						Usage: "create <name> <size>, e.g. create win11 50G",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 2 {
								return errors.New("you must supply a name and a size")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.CreateMaster(c.Args().First(), c.Args().Get(1))
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
					{
						Name:  "rm",
						Usage: "rm <name>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 1 {
								return errors.New("you must supply the master name")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.DeleteMaster(c.Args().First())
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
					{
						Name:  "default",
						Usage: "default <name>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 1 {
								return errors.New("you must supply the master name")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.SetDefaultMaster(c.Args().First())
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
				},
			},
			{
				Name:  "snap",
				Usage: "manage snapshots",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "create <master@snapshot>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 1 {
								return errors.New("you must supply master@snapshot")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.CreateSnapshot(c.Args().First())
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
					{
						Name:  "rm",
						Usage: "rm <master@snapshot>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 1 {
								return errors.New("you must supply master@snapshot")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.DeleteSnapshot(c.Args().First())
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
				},
			},
			{
				Name:  "service",
				Usage: "manage boot pipeline services",
				Subcommands: []*cli.Command{
					{
						Name: "list",
						Action: func(c *cli.Context) error {
							api, err := getAPI()
							if err != nil {
								return err
							}
							services, err := api.GetServices()
							if err != nil {
								return err
							}
							w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
							fmt.Fprintln(w, "KEY\tNAME\tSTATUS\tINSTALLED")
							for key, s := range services {
								fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", key, s.Name, s.Status, s.Installed)
							}
							return w.Flush()
						},
					},
					{
						Name:  "control",
						Usage: "control <key> <start|stop|restart>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 2 {
								return errors.New("you must supply the service key and an action")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.ControlService(c.Args().First(), nsboot.ServiceAction(c.Args().Get(1)))
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
					{
						Name:  "config",
						Usage: "config <key>, prints the service configuration",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 1 {
								return errors.New("you must supply the service key")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							content, err := api.GetServiceConfig(c.Args().First())
							if err != nil {
								return err
							}
							fmt.Print(content)
							return nil
						},
					},
					{
						Name:  "save-config",
						Usage: "save-config <key> <file>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 2 {
								return errors.New("you must supply the service key and a file")
							}
							data, err := os.ReadFile(c.Args().Get(1))
							if err != nil {
								return err
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.SaveServiceConfig(c.Args().First(), string(data))
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
					{
						Name:  "install",
						Usage: "install <key>",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 1 {
								return errors.New("you must supply the service key")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.InstallService(c.Args().First())
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
				},
			},
			{
				Name:  "ram",
				Usage: "show server RAM usage",
				Action: func(c *cli.Context) error {
					api, err := getAPI()
					if err != nil {
						return err
					}
					stats, err := api.RAMStats()
					if err != nil {
						return err
					}
					fmt.Printf("mem  total %d  used %d  free %d  available %d\n",
						stats.Memory.Total, stats.Memory.Used, stats.Memory.Free, stats.Memory.Available)
					fmt.Printf("swap total %d  used %d  free %d\n",
						stats.Swap.Total, stats.Swap.Used, stats.Swap.Free)
					return nil
				},
			},
			{
				Name:  "ram-clear",
				Usage: "drop the server page cache",
				Action: func(c *cli.Context) error {
					api, err := getAPI()
					if err != nil {
						return err
					}
					msg, err := api.ClearRAMCache()
					if err != nil {
						return err
					}
					fmt.Println(msg.Message)
					return nil
				},
			},
			{
				Name:  "setup",
				Usage: "first time server setup",
				Subcommands: []*cli.Command{
					{
						Name: "disks",
						Action: func(c *cli.Context) error {
							api, err := getAPI()
							if err != nil {
								return err
							}
							disks, err := api.ListDisks()
							if err != nil {
								return err
							}
							w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
							fmt.Fprintln(w, "NAME\tSIZE\tMODEL")
							for _, d := range disks {
								fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.Size, d.Model)
							}
							return w.Flush()
						},
					},
					{
						Name:  "pool",
						Usage: "pool <name> <disk>, creates the storage pool (destroys data on disk)",
						Action: func(c *cli.Context) error {
							if c.Args().Len() != 2 {
								return errors.New("you must supply the pool name and a disk")
							}
							api, err := getAPI()
							if err != nil {
								return err
							}
							msg, err := api.CreatePool(c.Args().First(), c.Args().Get(1))
							if err != nil {
								return err
							}
							fmt.Println(msg.Message)
							return nil
						},
					},
				},
			},
		},
	}

	if err := cliapp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
