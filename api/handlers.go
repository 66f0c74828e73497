package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// createOrderAttempts bounds how often a create recomputes its order after
// losing a race for the same value.
const createOrderAttempts = 5

// Register wires up all API routes on the provided Echo instance. deduper
// may be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, store Storage, deduper Deduper, logger *log.Logger) {
	g := e.Group("/api")
	g.GET("", greeting)
	g.GET("/", greeting)
	g.POST("/todos", createTodo(store, deduper, logger))
	g.GET("/todos", listTodos(store, logger))
	g.GET("/todos/:todoId", getTodo(store, logger))
	g.PATCH("/todos/:todoId", updateTodo(store, logger, time.Now))
	g.DELETE("/todos/:todoId", deleteTodo(store, logger))
	e.GET("/healthz", healthz(store, logger))
}

func greeting(c echo.Context) error {
	return c.JSON(http.StatusOK, messageResponse{Message: "Hi!"})
}

func healthz(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			logger.WithError(err).Warn("health check failed")
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

func createTodo(store Storage, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return instrumented(logger, "/api/todos", func(c echo.Context, metrics *requestMetrics) (err error) {
		ctx := c.Request().Context()
		body, err := readBody(c)
		if err != nil {
			metrics.SetErrorStage("decode")
			return err
		}
		req, err := ValidateCreateTodo(body)
		if err != nil {
			metrics.SetErrorStage("validate")
			return err
		}
		if req.Title == "" || req.Content == "" || req.Author == "" || req.Password == "" {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, errorResponse{ErrorMessage: msgMissingTodoData})
		}

		key := c.Request().Header.Get(HeaderIdempotencyKey)
		if deduper != nil && key != "" {
			if len(key) > idempotencyKeyMaxLen {
				metrics.SetErrorStage("idempotency")
				return &BadRequestError{Message: msgInvalidIdempotencyKey}
			}
			var claimed bool
			claimed, err = deduper.Claim(ctx, key)
			if err != nil {
				metrics.SetErrorStage("idempotency")
				return fmt.Errorf("claim idempotency key: %w", err)
			}
			if !claimed {
				metrics.SetErrorStage("duplicate")
				return c.JSON(http.StatusConflict, errorResponse{ErrorMessage: msgDuplicateRequest})
			}
			defer func() {
				if err == nil {
					return
				}
				if rerr := deduper.Release(context.WithoutCancel(ctx), key); rerr != nil {
					logger.WithError(rerr).Warn("release idempotency key")
				}
			}()
		}

		input := domain.NewTodo{Title: req.Title, Content: req.Content, Author: req.Author, Password: req.Password}
		for attempt := 1; ; attempt++ {
			start := time.Now()
			maxOrder, found, err := store.MaxOrder(ctx)
			if err != nil {
				metrics.ObserveStore(time.Since(start))
				metrics.SetErrorStage("max_order")
				return err
			}
			created, err := store.InsertTodo(ctx, input.Build(domain.NextOrder(maxOrder, found)))
			metrics.ObserveStore(time.Since(start))
			if err == nil {
				return c.JSON(http.StatusCreated, createTodoResponse{Todo: created})
			}
			if !errors.Is(err, domain.ErrOrderConflict) || attempt == createOrderAttempts {
				metrics.SetErrorStage("insert")
				return fmt.Errorf("create todo: %w", err)
			}
			logger.WithField("attempt", attempt).Debug("order taken by a concurrent create, retrying")
		}
	})
}

func listTodos(store Storage, logger *log.Logger) echo.HandlerFunc {
	return instrumented(logger, "/api/todos", func(c echo.Context, metrics *requestMetrics) error {
		start := time.Now()
		todos, err := store.ListTodos(c.Request().Context())
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			metrics.SetErrorStage("storage")
			return err
		}
		if todos == nil {
			todos = []domain.TodoSummary{}
		}
		metrics.SetTodosReturned(len(todos))
		return c.JSON(http.StatusOK, listTodosResponse{Todos: todos})
	})
}

func getTodo(store Storage, logger *log.Logger) echo.HandlerFunc {
	return instrumented(logger, "/api/todos/:todoId", func(c echo.Context, metrics *requestMetrics) error {
		start := time.Now()
		todo, err := store.GetTodo(c.Request().Context(), c.Param("todoId"))
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			metrics.SetErrorStage("storage")
			return err
		}
		if todo != nil {
			metrics.SetTodosReturned(1)
		}
		return c.JSON(http.StatusOK, getTodoResponse{Todos: todo})
	})
}

func updateTodo(store Storage, logger *log.Logger, now func() time.Time) echo.HandlerFunc {
	return instrumented(logger, "/api/todos/:todoId", func(c echo.Context, metrics *requestMetrics) error {
		body, err := readBody(c)
		if err != nil {
			metrics.SetErrorStage("decode")
			return err
		}
		password, _ := body["password"].(string)
		upd := domain.TodoUpdate{
			Password: password,
			Title:    optionalString(body, "title"),
			Content:  optionalString(body, "content"),
			Status:   optionalString(body, "status"),
		}
		if done, ok := body["done"]; ok {
			upd.SetDoneAt = true
			if truthy(done) {
				at := now().UTC()
				upd.DoneAt = &at
			}
		}

		start := time.Now()
		err = store.UpdateTodo(c.Request().Context(), c.Param("todoId"), upd)
		metrics.ObserveStore(time.Since(start))
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, emptyResponse{})
		case errors.Is(err, domain.ErrPasswordMismatch):
			metrics.SetErrorStage("password")
			return c.JSON(http.StatusNotFound, errorResponse{ErrorMessage: msgUnknownPassword})
		case errors.Is(err, domain.ErrTodoNotFound):
			metrics.SetErrorStage("not_found")
			return c.JSON(http.StatusNotFound, errorResponse{ErrorMessage: msgTodoNotFound})
		default:
			metrics.SetErrorStage("storage")
			return err
		}
	})
}

func deleteTodo(store Storage, logger *log.Logger) echo.HandlerFunc {
	return instrumented(logger, "/api/todos/:todoId", func(c echo.Context, metrics *requestMetrics) error {
		body, err := readBody(c)
		if err != nil {
			metrics.SetErrorStage("decode")
			return err
		}
		password, _ := body["password"].(string)

		start := time.Now()
		err = store.DeleteTodo(c.Request().Context(), c.Param("todoId"), password)
		metrics.ObserveStore(time.Since(start))
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, emptyResponse{})
		case errors.Is(err, domain.ErrTodoNotFound):
			metrics.SetErrorStage("not_found")
			return c.JSON(http.StatusNotFound, errorResponse{ErrorMessage: msgTodoNotFound})
		case errors.Is(err, domain.ErrPasswordMismatch):
			metrics.SetErrorStage("password")
			return c.JSON(http.StatusNotFound, errorResponse{ErrorMessage: msgPasswordMismatch})
		default:
			metrics.SetErrorStage("storage")
			return err
		}
	})
}
