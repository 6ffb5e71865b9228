// permissions.go — послойное разрешение прав доступа.
// Порядок проверки фиксированный и одинаковый для каждого вызова:
//  1. роль admin — всегда разрешено;
//  2. фиксированные view-допуски роли (manager/technician — широкий список,
//     user — узкий);
//  3. явный набор прав в любой из двух форм;
//  4. отсутствие записи — запрещено.
package authflow

import (
	"strings"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// staffViewModules — модули, просмотр которых разрешён ролям
// manager и technician без явной записи в наборе прав.
var staffViewModules = []string{
	"Dashboard",
	"Tickets",
	"Chat",
	"KnowledgeBase",
	"Workflows",
	"Reports",
	"Activity",
}

// userViewModules — модули, просмотр которых разрешён роли user
// без явной записи в наборе прав.
var userViewModules = []string{
	"Dashboard",
	"Tickets",
	"Chat",
	"KnowledgeBase",
}

// permissionKeyOverrides — таблица трансляции модуль×действие → плоский
// ключ для формы ByKey, где ключ не выводится из имени модуля напрямую.
var permissionKeyOverrides = map[string]string{
	"knowledgebase.view": "kb.view",
	"knowledgebase.edit": "kb.edit",
}

// permissionKey возвращает плоский ключ для пары модуль/действие.
func permissionKey(module, action string) string {
	key := strings.ToLower(module) + "." + strings.ToLower(action)
	if override, ok := permissionKeyOverrides[key]; ok {
		return override
	}
	return key
}

// CanPerform проверяет право текущей идентичности на действие в модуле.
// Вне Authenticated всегда false.
func (m *Machine) CanPerform(module, action string) bool {
	m.mu.Lock()
	identity := m.identity
	state := m.state
	m.mu.Unlock()

	if state != StateAuthenticated || identity == nil {
		return false
	}
	return resolvePermission(identity.Role, identity.Permissions, module, action)
}

// resolvePermission — послойное разрешение для одной идентичности.
func resolvePermission(role model.Role, perms model.PermissionSet, module, action string) bool {
	switch role {
	case model.RoleAdmin:
		return true
	case model.RoleManager, model.RoleTechnician:
		if strings.EqualFold(action, "view") && containsFold(staffViewModules, module) {
			return true
		}
	case model.RoleUser:
		if strings.EqualFold(action, "view") && containsFold(userViewModules, module) {
			return true
		}
	}
	return perms.Lookup(module, action, permissionKey(module, action))
}

// containsFold — регистронезависимый поиск в списке модулей.
func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
