package api

import "todo-api/domain"

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// POST /api/todos response body
type createTodoResponse struct {
	Todo domain.Todo `json:"todo"`
}

// GET /api/todos response body
type listTodosResponse struct {
	Todos []domain.TodoSummary `json:"todos"`
}

// GET /api/todos/:todoId response body. The key is "todos" although it holds
// a single document; existing clients depend on it.
type getTodoResponse struct {
	Todos *domain.Todo `json:"todos"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type emptyResponse struct{}

const (
	msgMissingTodoData  = "품목 데이터가 존재하지 않습니다."
	msgUnknownPassword  = "존재하지 않는 비밀번호입니다."
	msgTodoNotFound     = "상품 조회에 실패하였습니다."
	msgPasswordMismatch = "비밀번호가 틀렸습니다."
	msgInvalidBody      = "invalid body"

	msgDuplicateRequest      = "이미 처리된 요청입니다."
	msgInvalidIdempotencyKey = "invalid idempotency key"
)
