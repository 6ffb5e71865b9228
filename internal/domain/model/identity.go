// Пакет model — доменные модели Desk Agent.
// identity.go — идентичность пользователя и полиморфное представление прав доступа.
// Бэкенд отдаёт права в двух формах: массив модулей или плоская key→bool карта.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role — роль пользователя в help-desk системе.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleTechnician Role = "technician"
	RoleUser       Role = "user"
)

// Identity — идентичность аутентифицированного пользователя.
// Создаётся при успешной аутентификации, заменяется целиком при refresh,
// уничтожается при logout.
type Identity struct {
	// ID — идентификатор пользователя
	ID string `json:"id"`
	// Username — логин
	Username string `json:"username"`
	// DisplayName — отображаемое имя
	DisplayName string `json:"display_name"`
	// Role — роль (admin, manager, technician, user)
	Role Role `json:"role"`
	// Permissions — набор прав (полиморфная форма, см. PermissionSet)
	Permissions PermissionSet `json:"permissions"`
	// AvatarURL — ссылка на аватар (опционально)
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ModulePermissions — права по одному модулю в списочной форме.
type ModulePermissions struct {
	// Module — имя модуля (например, "Tickets")
	Module string
	// Actions — action → разрешено
	Actions map[string]bool
}

// PermissionSet — tagged variant двух форм представления прав:
// ByModule (упорядоченный список записей модулей) или ByKey (плоская карта).
// Ровно одно из полей не-nil; пустой набор — оба nil (всё запрещено).
type PermissionSet struct {
	ByModule []ModulePermissions
	ByKey    map[string]bool
}

// Empty сообщает, что права не заданы ни в одной форме.
func (p PermissionSet) Empty() bool {
	return p.ByModule == nil && p.ByKey == nil
}

// Lookup возвращает право для пары модуль/действие.
// key — плоский ключ для формы ByKey (см. authflow.permissionKey).
// Отсутствие записи означает запрет.
func (p PermissionSet) Lookup(module, action, key string) bool {
	if p.ByModule != nil {
		for _, mp := range p.ByModule {
			if strings.EqualFold(mp.Module, module) {
				return mp.Actions[action]
			}
		}
		return false
	}
	if p.ByKey != nil {
		return p.ByKey[key]
	}
	return false
}

// UnmarshalJSON принимает обе формы: JSON-массив
// [{"module":"Tickets","view":true,"edit":false}, ...] или
// JSON-объект {"tickets.view":true, ...}.
func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*p = PermissionSet{}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var raw []map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("разбор прав в форме массива: %w", err)
		}
		modules := make([]ModulePermissions, 0, len(raw))
		for _, entry := range raw {
			mp := ModulePermissions{Actions: make(map[string]bool)}
			for k, v := range entry {
				if k == "module" {
					if err := json.Unmarshal(v, &mp.Module); err != nil {
						return fmt.Errorf("разбор имени модуля: %w", err)
					}
					continue
				}
				// Не-boolean значения (id, служебные поля) пропускаем
				var allowed bool
				if err := json.Unmarshal(v, &allowed); err == nil {
					mp.Actions[k] = allowed
				}
			}
			modules = append(modules, mp)
		}
		*p = PermissionSet{ByModule: modules}
		return nil
	case '{':
		var flat map[string]bool
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("разбор прав в форме карты: %w", err)
		}
		*p = PermissionSet{ByKey: flat}
		return nil
	default:
		return fmt.Errorf("неизвестная форма прав: %s", trimmed[:1])
	}
}

// MarshalJSON сериализует права в исходной форме.
func (p PermissionSet) MarshalJSON() ([]byte, error) {
	if p.ByKey != nil {
		return json.Marshal(p.ByKey)
	}
	out := make([]map[string]any, 0, len(p.ByModule))
	for _, mp := range p.ByModule {
		entry := make(map[string]any, len(mp.Actions)+1)
		entry["module"] = mp.Module
		for k, v := range mp.Actions {
			entry[k] = v
		}
		out = append(out, entry)
	}
	return json.Marshal(out)
}
