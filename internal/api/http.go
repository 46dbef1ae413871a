package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/nsboot/nsboot"
	"github.com/nsboot/nsboot/internal/config"
	"github.com/nsboot/nsboot/internal/engine"
	"github.com/nsboot/nsboot/internal/infra"
	"github.com/nsboot/nsboot/internal/poller"
	"github.com/nsboot/nsboot/internal/store"
	"github.com/nsboot/nsboot/internal/sysinfo"
)

func statusCode(kind nsboot.ErrorKind) int {
	switch kind {
	case nsboot.ErrValidation:
		return http.StatusBadRequest
	case nsboot.ErrNotFound:
		return http.StatusNotFound
	case nsboot.ErrNameConflict, nsboot.ErrResourceInUse:
		return http.StatusConflict
	case nsboot.ErrPreconditionFailed:
		return http.StatusPreconditionFailed
	case nsboot.ErrCapacityExceeded:
		return http.StatusInsufficientStorage
	case nsboot.ErrUnsupported:
		return http.StatusNotImplemented
	case nsboot.ErrProvisioningTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if he, ok := err.(*echo.HTTPError); ok {
		_ = c.JSON(he.Code, nsboot.Error{Kind: nsboot.ErrValidation, Detail: fmt.Sprint(he.Message)})
		return
	}
	kind := nsboot.KindOf(err)
	if kind == "" {
		log.Errorf("unclassified error reached the api: %v", err)
		_ = c.JSON(http.StatusInternalServerError, nsboot.Error{Kind: nsboot.ErrProvisioningFailed, Detail: err.Error()})
		return
	}
	var e *nsboot.Error
	if ne, ok := err.(*nsboot.Error); ok {
		e = ne
	} else {
		e = nsboot.Errorf(kind, "%v", err)
	}
	_ = c.JSON(statusCode(kind), e)
}

func message(c echo.Context, format string, args ...any) error {
	return c.JSON(http.StatusOK, nsboot.Message{Message: fmt.Sprintf(format, args...)})
}

// Router wires every command-boundary route. Refresh endpoints trigger a
// reconciliation pass before reading, so a console refresh always sees
// freshly observed state.
func Router(cfg *config.Config, app *engine.Engine, st *store.Store, pol *poller.Poller, sys infra.System) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.RemoveTrailingSlash())
	e.HTTPErrorHandler = errorHandler

	e.GET("/status", func(c echo.Context) error {
		if err := pol.Reconcile(c.Request().Context()); err != nil {
			return err
		}
		res, err := getServerStatus(cfg, st)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	})

	e.GET("/clients", func(c echo.Context) error {
		if err := pol.Reconcile(c.Request().Context()); err != nil {
			return err
		}
		clients, err := st.Clients()
		if err != nil {
			return err
		}
		if clients == nil {
			clients = []nsboot.Client{}
		}
		return c.JSON(http.StatusOK, clients)
	})

	e.POST("/clients", func(c echo.Context) error {
		var req nsboot.AddClientRequest
		if err := c.Bind(&req); err != nil {
			return nsboot.Errorf(nsboot.ErrValidation, "could not parse request body")
		}
		client, err := app.AddClient(c.Request().Context(), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"message": fmt.Sprintf("Client %s added successfully", client.Name),
			"client":  client,
		})
	})

	e.POST("/clients/edit/:id", func(c echo.Context) error {
		var req nsboot.AddClientRequest
		if err := c.Bind(&req); err != nil {
			return nsboot.Errorf(nsboot.ErrValidation, "could not parse request body")
		}
		client, err := app.EditClient(c.Request().Context(), c.Param("id"), req)
		if err != nil {
			return err
		}
		return message(c, "Successfully updated client %s", client.Name)
	})

	e.DELETE("/clients/:id", func(c echo.Context) error {
		id := c.Param("id")
		if err := app.DeleteClient(c.Request().Context(), id); err != nil {
			return err
		}
		return message(c, "Client %s deleted successfully", id)
	})

	e.POST("/clients/:id/control", func(c echo.Context) error {
		var req struct {
			Action nsboot.ClientAction `json:"action"`
		}
		if err := c.Bind(&req); err != nil || req.Action == "" {
			return nsboot.Errorf(nsboot.ErrValidation, "missing required field: action")
		}
		id := c.Param("id")
		if err := app.ControlClient(c.Request().Context(), id, req.Action); err != nil {
			return err
		}
		if client, err := st.Client(id); err == nil {
			pol.Invalidate(client.IP)
		}
		return message(c, "%s signal sent to client %s", req.Action, id)
	})

	e.GET("/masters", func(c echo.Context) error {
		masters, err := st.Masters()
		if err != nil {
			return err
		}
		if masters == nil {
			masters = []nsboot.Master{}
		}
		return c.JSON(http.StatusOK, masters)
	})

	e.POST("/masters", func(c echo.Context) error {
		var req nsboot.CreateMasterRequest
		if err := c.Bind(&req); err != nil {
			return nsboot.Errorf(nsboot.ErrValidation, "could not parse request body")
		}
		m, err := app.CreateMaster(c.Request().Context(), req.Name, req.Size)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"message": fmt.Sprintf("Master %q created successfully", m.Name),
			"master":  m,
		})
	})

	e.DELETE("/masters/:name", func(c echo.Context) error {
		name := c.Param("name")
		if err := app.DeleteMaster(c.Request().Context(), name); err != nil {
			return err
		}
		return message(c, "Master %q deleted", name)
	})

	e.POST("/masters/default", func(c echo.Context) error {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.Bind(&req); err != nil || req.Name == "" {
			return nsboot.Errorf(nsboot.ErrValidation, "missing required field: name")
		}
		if err := app.SetDefaultMaster(c.Request().Context(), req.Name); err != nil {
			return err
		}
		return message(c, "Default master set to %s", req.Name)
	})

	// Snapshots travel as the qualified master@snapshot form on this
	// surface only.
	e.POST("/snapshots", func(c echo.Context) error {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.Bind(&req); err != nil || req.Name == "" {
			return nsboot.Errorf(nsboot.ErrValidation, "missing required field: name")
		}
		masterName, snapName, err := splitSnapshotName(req.Name)
		if err != nil {
			return err
		}
		snap, err := app.CreateSnapshot(c.Request().Context(), masterName, snapName)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"message":  fmt.Sprintf("Snapshot %s created", req.Name),
			"snapshot": snap,
		})
	})

	e.DELETE("/snapshots/:name", func(c echo.Context) error {
		masterName, snapName, err := splitSnapshotName(c.Param("name"))
		if err != nil {
			return err
		}
		if err := app.DeleteSnapshot(c.Request().Context(), masterName, snapName); err != nil {
			return err
		}
		return message(c, "Snapshot %s@%s deleted", masterName, snapName)
	})

	e.GET("/services", func(c echo.Context) error {
		if err := pol.Reconcile(c.Request().Context()); err != nil {
			return err
		}
		services, err := st.Services()
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, services)
	})

	e.POST("/services/:key/control", func(c echo.Context) error {
		var req struct {
			Action nsboot.ServiceAction `json:"action"`
		}
		if err := c.Bind(&req); err != nil || req.Action == "" {
			return nsboot.Errorf(nsboot.ErrValidation, "missing required field: action")
		}
		key := c.Param("key")
		if err := app.ControlService(c.Request().Context(), key, req.Action); err != nil {
			return err
		}
		return message(c, "Service %q %s command issued successfully", key, req.Action)
	})

	e.GET("/services/:key/config", func(c echo.Context) error {
		content, err := app.GetServiceConfig(c.Request().Context(), c.Param("key"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]string{"text": content})
	})

	e.POST("/services/:key/config", func(c echo.Context) error {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.Bind(&req); err != nil {
			return nsboot.Errorf(nsboot.ErrValidation, "could not parse request body")
		}
		key := c.Param("key")
		if err := app.SaveServiceConfig(c.Request().Context(), key, req.Text); err != nil {
			return err
		}
		return message(c, "Configuration for %q saved, restart the service to apply", key)
	})

	e.POST("/services/:key/install", func(c echo.Context) error {
		key := c.Param("key")
		if err := app.InstallService(c.Request().Context(), key); err != nil {
			return err
		}
		return message(c, "Service %q installed", key)
	})

	e.GET("/system/ram", func(c echo.Context) error {
		stats, err := sysinfo.RAMStats()
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, stats)
	})

	e.POST("/system/ram/clear", func(c echo.Context) error {
		if err := sys.DropCaches(c.Request().Context()); err != nil {
			return err
		}
		return message(c, "RAM cache cleared successfully")
	})

	e.GET("/system/disks", func(c echo.Context) error {
		disks, err := sys.ListDisks(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, disks)
	})

	e.POST("/system/pool", func(c echo.Context) error {
		var req struct {
			Name string `json:"name"`
			Disk string `json:"disk"`
		}
		if err := c.Bind(&req); err != nil || req.Name == "" || req.Disk == "" {
			return nsboot.Errorf(nsboot.ErrValidation, "missing required fields: name, disk")
		}
		if err := app.CreatePool(c.Request().Context(), req.Name, req.Disk); err != nil {
			return err
		}
		return message(c, "Pool %q created on /dev/%s", req.Name, req.Disk)
	})

	return e
}

func Start(cfg *config.Config, app *engine.Engine, st *store.Store, pol *poller.Poller, sys infra.System) error {
	e := Router(cfg, app, st, pol, sys)
	log.Infof("== Starting API Server on :%d ==", cfg.APIPort)
	return e.Start(fmt.Sprintf(":%d", cfg.APIPort))
}
