package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
)

// Ошибки Lua выражений.
var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
	ErrLuaBudget    = errors.New("lua instruction budget exceeded")
)

const (
	luaGlobalTableName = "_G"

	// luaHookInterval — через сколько инструкций вызывается hook.
	luaHookInterval = 1000

	// DefaultLuaInstructionBudget — лимит инструкций одного вычисления.
	DefaultLuaInstructionBudget = 10_000_000
)

// luaExclude — библиотеки и функции, недоступные в выражениях.
// pcall/xpcall перехватили бы ошибку, которой hook прерывает выражение.
var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
	"pcall", "xpcall", "collectgarbage",
}

// LuaEnv вычисляет пользовательские выражения (условие цикла, функции
// map/filter/reduce) в песочнице Lua.
//
// Выражение записывается на Lua: "value % 2 == 0", "value * 10",
// "acc + value". Переменные передаются как локальные.
//
// Каждое вычисление идёт в собственном lua.State: глобальные переменные,
// записанные выражением, не видны следующему вызову. Выполнение
// прерывается по отмене ctx и по исчерпанию лимита инструкций.
type LuaEnv struct {
	budget  int
	scripts sync.Map
}

// compiledLua — скомпилированное выражение.
type compiledLua struct {
	bytecode []byte
	argNames []string
}

// NewLuaEnv создаёт окружение с лимитом DefaultLuaInstructionBudget.
func NewLuaEnv() *LuaEnv {
	return NewLuaEnvWithBudget(DefaultLuaInstructionBudget)
}

// NewLuaEnvWithBudget создаёт окружение с заданным лимитом инструкций.
func NewLuaEnvWithBudget(budget int) *LuaEnv {
	if budget <= 0 {
		budget = DefaultLuaInstructionBudget
	}
	return &LuaEnv{budget: budget}
}

// Eval вычисляет выражение и возвращает значение в Go-представлении.
func (e *LuaEnv) Eval(ctx context.Context, expr string, vars map[string]any) (any, error) {
	names := sortedNames(vars)
	c, err := e.compile(expr, names)
	if err != nil {
		return nil, err
	}

	L := lua.NewState()
	if err := e.call(ctx, L, c, vars); err != nil {
		return nil, err
	}
	return luaToGo(L, -1), nil
}

// EvalBool вычисляет выражение как предикат (правила истинности Lua).
func (e *LuaEnv) EvalBool(ctx context.Context, expr string, vars map[string]any) (bool, error) {
	names := sortedNames(vars)
	c, err := e.compile(expr, names)
	if err != nil {
		return false, err
	}

	L := lua.NewState()
	if err := e.call(ctx, L, c, vars); err != nil {
		return false, err
	}
	return L.ToBoolean(-1), nil
}

func (e *LuaEnv) call(ctx context.Context, L *lua.State, c *compiledLua, vars map[string]any) error {
	setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "expr", "b"); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	for _, name := range c.argNames {
		goToLua(L, vars[name])
	}

	exhausted := false
	used := 0
	lua.SetDebugHook(L, func(l *lua.State, _ lua.Debug) {
		if ctx.Err() != nil {
			l.PushString("interrupted")
			l.Error()
		}
		used += luaHookInterval
		if used > e.budget {
			exhausted = true
			l.PushString("instruction budget exceeded")
			l.Error()
		}
	}, lua.MaskCount, luaHookInterval)
	defer lua.SetDebugHook(L, nil, 0, 0)

	err := L.ProtectedCall(len(c.argNames), 1, 0)
	switch {
	case err == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrStepTimeout, ctx.Err())
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrStepCancelled, ctx.Err())
	case exhausted:
		return fmt.Errorf("%w: limit %d", ErrLuaBudget, e.budget)
	default:
		return fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}
}

func (e *LuaEnv) compile(expr string, argNames []string) (*compiledLua, error) {
	body := strings.TrimSpace(expr)
	if !strings.HasPrefix(body, "return ") && !strings.Contains(body, "\n") {
		body = "return " + body
	}

	key := strings.Join(argNames, ",") + "|" + body
	if v, ok := e.scripts.Load(key); ok {
		return v.(*compiledLua), nil
	}

	locals := make([]string, len(argNames))
	for i, name := range argNames {
		locals[i] = fmt.Sprintf("local %s = select(%d, ...)", name, i+1)
	}
	src := strings.Join(append(locals, body), "\n")

	L := lua.NewState()
	setupSandbox(L)
	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	c := &compiledLua{bytecode: buf.Bytes(), argNames: argNames}
	e.scripts.Store(key, c)
	return c, nil
}

func setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(-2, name)
	}
	L.Pop(1)
}

// sortedNames возвращает имена переменных, пригодные для Lua идентификаторов.
func sortedNames(vars map[string]any) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if isLuaIdent(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func isLuaIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		L.PushNil()
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		L.CreateTable(len(v), 0)
		for i, item := range v {
			L.PushInteger(i + 1)
			goToLua(L, item)
			L.SetTable(-3)
		}
	case map[string]any:
		L.CreateTable(0, len(v))
		for k, item := range v {
			L.PushString(k)
			goToLua(L, item)
			L.SetTable(-3)
		}
	default:
		if f, ok := toFloat(v); ok {
			L.PushNumber(f)
			return
		}
		if s, ok := toSlice(v); ok {
			goToLua(L, s)
			return
		}
		L.PushString(fmt.Sprint(v))
	}
}

func luaToGo(L *lua.State, index int) any {
	switch {
	case L.IsNil(index):
		return nil
	case L.IsBoolean(index):
		return L.ToBoolean(index)
	case L.TypeOf(index) == lua.TypeNumber:
		num, _ := L.ToNumber(index)
		if num == float64(int(num)) {
			return int(num)
		}
		return num
	case L.IsString(index):
		s, _ := L.ToString(index)
		return s
	case L.IsTable(index):
		return luaTableToAny(L, L.AbsIndex(index))
	default:
		return nil
	}
}

// luaTableToAny превращает таблицу в []any (последовательность 1..n)
// или map[string]any.
func luaTableToAny(L *lua.State, index int) any {
	length := L.RawLength(index)
	entries := 0
	L.PushNil()
	for L.Next(index) {
		entries++
		L.Pop(1)
	}

	if length > 0 && length == entries {
		arr := make([]any, length)
		for i := 1; i <= length; i++ {
			L.RawGetInt(index, i)
			arr[i-1] = luaToGo(L, -1)
			L.Pop(1)
		}
		return arr
	}

	result := make(map[string]any, entries)
	L.PushNil()
	for L.Next(index) {
		var key string
		if L.TypeOf(-2) == lua.TypeString {
			key, _ = L.ToString(-2)
		} else {
			// ToString на числовом ключе сломал бы Next, берём копию
			L.PushValue(-2)
			key, _ = L.ToString(-1)
			L.Pop(1)
		}
		result[key] = luaToGo(L, -1)
		L.Pop(1)
	}
	return result
}
