package discovery

import "testing"

func TestResolve_RoundRobin(t *testing.T) {
	r := NewStatic(map[string][]string{
		OrderService: {"http://a:8082", "http://b:8082"},
	})

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		addr, err := r.Resolve(OrderService)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		seen[addr]++
	}
	if seen["http://a:8082"] != 2 || seen["http://b:8082"] != 2 {
		t.Errorf("expected even rotation, got %v", seen)
	}
}

func TestResolve_SkipsDownAddresses(t *testing.T) {
	r := NewStatic(map[string][]string{
		PaymentService: {"http://a:8083", "http://b:8083"},
	})
	r.MarkDown(PaymentService, "http://a:8083")

	for i := 0; i < 3; i++ {
		addr, err := r.Resolve(PaymentService)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if addr != "http://b:8083" {
			t.Errorf("expected healthy address, got %s", addr)
		}
	}

	r.MarkUp(PaymentService, "http://a:8083")
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		addr, _ := r.Resolve(PaymentService)
		seen[addr]++
	}
	if len(seen) != 2 {
		t.Errorf("expected both addresses back in rotation, got %v", seen)
	}
}

func TestResolve_AllDownStillServes(t *testing.T) {
	r := NewStatic(map[string][]string{
		UserService: {"http://a:8081"},
	})
	r.MarkDown(UserService, "http://a:8081")

	if _, err := r.Resolve(UserService); err != nil {
		t.Errorf("expected degraded resolution, got %v", err)
	}
}

func TestResolve_UnknownService(t *testing.T) {
	r := NewStatic(nil)
	if _, err := r.Resolve("nope"); err == nil {
		t.Error("expected error for unknown service")
	}
}
