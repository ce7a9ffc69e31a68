// Пакет rbac — роли пользователей и ролевые проверки операций.
// Ролевая проверка отвечает только на вопрос «может ли роль выполнять
// операцию вообще»; доступ к конкретному файлу решает AccessService.HasAccess.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleDownloader = "downloader"
	RoleUploader   = "uploader"
	RoleAdmin      = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleDownloader: 1,
	RoleUploader:   2,
	RoleAdmin:      3,
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// Roles возвращает все роли в порядке возрастания привилегий.
func Roles() []string {
	return []string{RoleDownloader, RoleUploader, RoleAdmin}
}

// AtLeast проверяет, что роль не ниже минимальной.
// Неизвестная роль не проходит ни одну проверку.
func AtLeast(role, minRole string) bool {
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[minRole]
}

// CanUpload — загрузка файлов: uploader или admin.
func CanUpload(role string) bool {
	return AtLeast(role, RoleUploader)
}

// CanDownload — скачивание: любая из трёх ролей.
func CanDownload(role string) bool {
	return AtLeast(role, RoleDownloader)
}

// CanManage — управление пользователями и выдачей доступа: только admin.
func CanManage(role string) bool {
	return role == RoleAdmin
}

// Permissions — набор флагов прав, записываемый вместе с пользователем.
type Permissions struct {
	CanUpload   bool
	CanDownload bool
	CanManage   bool
}

// DefaultPermissions возвращает флаги для пользователя, созданного администратором.
func DefaultPermissions(role string) Permissions {
	return Permissions{
		CanUpload:   role == RoleUploader || role == RoleAdmin,
		CanDownload: IsValidRole(role),
		CanManage:   role == RoleAdmin,
	}
}

// RegistrationPermissions — флаги при самостоятельной регистрации:
// только скачивание.
func RegistrationPermissions() Permissions {
	return Permissions{CanDownload: true}
}
