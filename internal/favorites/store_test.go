// Package favorites 收藏存储测试
package favorites

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "favorites.json")
}

func TestStore_AddRemoveRoundTrip(t *testing.T) {
	path := tempStorePath(t)

	s, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open 失败: %v", err)
	}

	if err := s.Add("nba:evt1:Jayson Tatum:player_points:over", 27.5); err != nil {
		t.Fatalf("Add 失败: %v", err)
	}
	if err := s.Add("nba:evt2:Luka Doncic:player_assists:over", 8.5); err != nil {
		t.Fatalf("Add 失败: %v", err)
	}
	if err := s.Hide("nba:evt3:hidden:player_points:under"); err != nil {
		t.Fatalf("Hide 失败: %v", err)
	}

	// 重新打开：状态应从文件恢复
	s2, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("重新 Open 失败: %v", err)
	}
	if s2.Len() != 2 {
		t.Fatalf("Len=%d, want 2", s2.Len())
	}
	if !s2.Contains("nba:evt1:Jayson Tatum:player_points:over") {
		t.Fatalf("收藏未恢复")
	}
	if _, ok := s2.HiddenKeys()["nba:evt3:hidden:player_points:under"]; !ok {
		t.Fatalf("隐藏条目未恢复")
	}

	// 收藏的 line 锁定在添加时刻
	sels := s2.Selections()
	if len(sels) != 2 {
		t.Fatalf("selections=%d", len(sels))
	}
	for _, sel := range sels {
		if sel.StableKey == "nba:evt1:Jayson Tatum:player_points:over" && sel.Line != 27.5 {
			t.Fatalf("line=%v, want 27.5", sel.Line)
		}
	}

	if err := s2.Remove("nba:evt1:Jayson Tatum:player_points:over"); err != nil {
		t.Fatalf("Remove 失败: %v", err)
	}
	s3, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open 失败: %v", err)
	}
	if s3.Len() != 1 {
		t.Fatalf("Remove 后 Len=%d, want 1", s3.Len())
	}
}

func TestStore_MissingFileStartsEmpty(t *testing.T) {
	s, err := Open(tempStorePath(t), zap.NewNop())
	if err != nil {
		t.Fatalf("文件不存在应从空状态开始: %v", err)
	}
	if s.Len() != 0 || len(s.HiddenKeys()) != 0 {
		t.Fatalf("期望空状态")
	}
}

func TestStore_CorruptFileIsError(t *testing.T) {
	path := tempStorePath(t)
	if err := os.WriteFile(path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, zap.NewNop()); err == nil {
		t.Fatalf("损坏文件应报错而不是静默清空")
	}
}

func TestStore_AddEmptyKey(t *testing.T) {
	s, err := Open(tempStorePath(t), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add("", 1.5); err == nil {
		t.Fatalf("空 stableKey 应报错")
	}
}

func TestStore_UnhideAndReAdd(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	key := "nba:evt1:Jayson Tatum:player_points:over"
	if err := s.Hide(key); err != nil {
		t.Fatal(err)
	}
	if err := s.Unhide(key); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.HiddenKeys()[key]; ok {
		t.Fatalf("Unhide 后仍在隐藏集合")
	}

	// 重复 Add 更新 line
	if err := s.Add(key, 26.5); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(key, 28.5); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("重复 Add 不应产生重复项: %d", s.Len())
	}
	if got := s.List()[0].Line; got != 28.5 {
		t.Fatalf("line=%v, want 28.5", got)
	}
}

func TestStore_NoTempFileLeftBehind(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add("nba:evt1:p:m:over", 1.5); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("落盘后不应残留临时文件")
	}
}
